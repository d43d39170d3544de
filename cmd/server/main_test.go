package main

import (
	"bytes"
	"strings"
	"testing"

	"riskguard/pkg/crypto"
)

func TestPrintToken(t *testing.T) {
	var buf bytes.Buffer
	if err := printToken(&buf); err != nil {
		t.Fatalf("printToken: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("ожидалось 2 строки, got %q", buf.String())
	}
	token := strings.TrimPrefix(lines[0], "API_TOKEN=")
	hash := strings.Trim(strings.TrimPrefix(lines[1], "API_TOKEN_HASH="), "'")
	if len(token) != 64 {
		t.Errorf("длина токена = %d, ожидалось 64", len(token))
	}
	if err := crypto.VerifyToken(token, hash); err != nil {
		t.Errorf("хеш не соответствует токену: %v", err)
	}
	if cost, _ := crypto.GetHashCost(hash); cost < crypto.MinAcceptedCost {
		t.Errorf("cost = %d, хеш не пройдёт проверку конфигурации", cost)
	}
}
