package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/util"
)

// SmsProvider delivers a one-time code to a phone number. The code is
// the only secret crossing this boundary; implementations must never log
// the full phone number.
type SmsProvider interface {
	SendCode(ctx context.Context, phone, code string) error
	Name() string
}

// MockSmsProvider does not talk to any gateway. It logs the masked phone
// and hands the code to the operator channel so a human can relay it
// during development and manual testing.
type MockSmsProvider struct {
	operator OperatorNotifier
}

func NewMockSmsProvider(operator OperatorNotifier) *MockSmsProvider {
	return &MockSmsProvider{operator: operator}
}

func (p *MockSmsProvider) Name() string { return "mock" }

func (p *MockSmsProvider) SendCode(ctx context.Context, phone, code string) error {
	masked := util.MaskPhone(phone)

	util.Info("Mock SMS send",
		zap.String("phone", masked))

	p.operator.Notify(ctx, OperatorNotice{
		Kind:        "sms_code_relay",
		Text:        fmt.Sprintf("deliver code %s manually", code),
		PhoneMasked: masked,
	})

	return nil
}

// RealSmsProvider is the production gateway integration point. No
// gateway is wired yet, so sends fail loudly instead of silently
// dropping codes.
type RealSmsProvider struct{}

func NewRealSmsProvider() *RealSmsProvider {
	return &RealSmsProvider{}
}

func (p *RealSmsProvider) Name() string { return "real" }

func (p *RealSmsProvider) SendCode(ctx context.Context, phone, code string) error {
	return fmt.Errorf("real sms provider is not configured")
}

// NewSmsProvider selects the provider named in configuration.
func NewSmsProvider(cfg *config.Config, operator OperatorNotifier) SmsProvider {
	switch cfg.Sms.Provider {
	case "real":
		return NewRealSmsProvider()
	default:
		return NewMockSmsProvider(operator)
	}
}
