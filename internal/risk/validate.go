package risk

import (
	"fmt"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// ValidateRiskConfig проверяет конфигурацию монитора целиком
func ValidateRiskConfig(cfg models.RiskConfig) error {
	var errs utils.ValidationErrors

	if _, ok := cfg.Profiles[cfg.Mode]; !ok {
		errs.Add("mode", fmt.Sprintf("no profile for mode %q", cfg.Mode))
	}
	for mode, p := range cfg.Profiles {
		field := "profiles." + string(mode)
		if p.MaxConcentration <= 0 || p.MaxConcentration > 1 {
			errs.Add(field+".max_concentration", "must be within (0, 1]")
		}
		th := p.RiskThresholds
		if !(th.Low <= th.Medium && th.Medium <= th.High && th.High <= th.Critical) {
			errs.Add(field+".risk_thresholds", "must be non-decreasing low <= medium <= high <= critical")
		}
		if th.Low < 0 || th.Critical > 100 {
			errs.Add(field+".risk_thresholds", "must be within [0, 100]")
		}
	}
	if cfg.MaxDailyLossPercent <= 0 || cfg.MaxDailyLossPercent > 1 {
		errs.Add("max_daily_loss_percent", "must be within (0, 1]")
	}
	if cfg.MaxTotalLossPercent <= 0 || cfg.MaxTotalLossPercent > 1 {
		errs.Add("max_total_loss_percent", "must be within (0, 1]")
	}
	if cfg.MaxPositionAge <= 0 {
		errs.Add("max_position_age", "must be positive")
	}
	errs.AddError("max_daily_volume", utils.ValidatePositive(cfg.MaxDailyVolume))
	errs.AddError("max_position_size_usd", utils.ValidatePositive(cfg.MaxPositionSizeUSD))
	if cfg.AdjustedSizeFraction <= 0 || cfg.AdjustedSizeFraction > 1 {
		errs.Add("adjusted_size_fraction", "must be within (0, 1]")
	}
	errs.AddError("normal_volatility", utils.ValidatePositive(cfg.NormalVolatility))
	if cfg.CheckInterval <= 0 {
		errs.Add("check_interval", "must be positive")
	}
	if cfg.HistoryRetention <= 0 {
		errs.Add("history_retention", "must be positive")
	}
	if cfg.RapidChangeWindow <= 0 {
		errs.Add("rapid_change_window", "must be positive")
	}
	if cfg.RapidChangePercent <= 0 || cfg.RapidChangePercent > 1 {
		errs.Add("rapid_change_percent", "must be within (0, 1]")
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return nil
}

// ValidateLimits проверяет лимиты позиций
func ValidateLimits(l models.PositionLimitsConfig) error {
	var errs utils.ValidationErrors

	errs.AddError("max_position_size", utils.ValidatePositive(l.MaxPositionSize))
	if l.MaxPositionCount < 1 {
		errs.Add("max_position_count", "must be at least 1")
	}
	if l.MaxConcentration <= 0 || l.MaxConcentration > 1 {
		errs.Add("max_concentration", "must be within (0, 1]")
	}
	errs.AddError("max_total_exposure", utils.ValidatePositive(l.MaxTotalExposure))
	errs.AddError("max_daily_volume", utils.ValidatePositive(l.MaxDailyVolume))
	errs.AddError("dust_threshold", utils.ValidateNonNegative(l.DustThreshold))

	if errs.HasErrors() {
		return fmt.Errorf("%w: %v", ErrInvalidLimits, errs)
	}
	return nil
}

// ValidateTriggers проверяет пороги circuit breaker
func ValidateTriggers(t models.EmergencyTriggers) error {
	var errs utils.ValidationErrors

	if t.PortfolioLossPercent <= 0 || t.PortfolioLossPercent > 1 {
		errs.Add("portfolio_loss_percent", "must be within (0, 1]")
	}
	if t.DailyLossPercent <= 0 || t.DailyLossPercent > 1 {
		errs.Add("daily_loss_percent", "must be within (0, 1]")
	}
	errs.AddError("volatility_threshold", utils.ValidatePositive(t.VolatilityThreshold))
	if t.LiquidityThreshold < 0 || t.LiquidityThreshold > 100 {
		errs.Add("liquidity_threshold", "must be within [0, 100]")
	}
	if t.PriceDropThreshold <= 0 || t.PriceDropThreshold > 1 {
		errs.Add("price_drop_threshold", "must be within (0, 1]")
	}
	if t.SystemErrorCount < 1 {
		errs.Add("system_error_count", "must be at least 1")
	}
	if t.APIFailureCount < 1 {
		errs.Add("api_failure_count", "must be at least 1")
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %v", ErrInvalidTriggers, errs)
	}
	return nil
}

// ValidateSlippageConfig проверяет настройки Slippage Guard
func ValidateSlippageConfig(c models.SlippageConfig) error {
	var errs utils.ValidationErrors

	if c.DefaultTolerance <= 0 || c.DefaultTolerance > 1 {
		errs.Add("default_tolerance", "must be within (0, 1]")
	}
	if c.EmergencyTolerance <= 0 || c.EmergencyTolerance > 1 {
		errs.Add("emergency_tolerance", "must be within (0, 1]")
	}
	if c.MaxTolerance < c.DefaultTolerance || c.MaxTolerance > 1 {
		errs.Add("max_tolerance", "must be within [default_tolerance, 1]")
	}
	if c.AlertMultiple <= 1 {
		errs.Add("alert_multiple", "must be greater than 1")
	}
	if c.AlertWindow < 1 {
		errs.Add("alert_window", "must be at least 1")
	}
	if c.HistorySize < c.AlertWindow {
		errs.Add("history_size", "must be at least alert_window")
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return nil
}
