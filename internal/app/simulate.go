package app

import (
	"context"
	"errors"
	"time"

	"sol-price-oracle/internal/alerting"
)

// SimulateOptions describe a synthetic anomaly pushed through the alert path.
type SimulateOptions struct {
	Token    string
	Price    float64
	Baseline float64
	ZScore   float64
}

// SimulateAlert 通过给定的价格与基线模拟一次异常告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	if opts.Token == "" || opts.Price <= 0 || opts.Baseline <= 0 {
		return errors.New("token、price 与 baseline 必须有效")
	}

	return notifier.Notify(ctx, alerting.Notification{
		Token:         opts.Token,
		At:            time.Now().UTC(),
		Price:         opts.Price,
		BaselineMean:  opts.Baseline,
		ZScore:        opts.ZScore,
		Severity:      a.newEngine().Classify(opts.ZScore).String(),
		AdditionalMsg: "simulated anomaly",
	})
}
