package repository

import jsoniter "github.com/json-iterator/go"

// json - кодек для JSONB-колонок
var json = jsoniter.ConfigCompatibleWithStandardLibrary
