package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Service sends verification codes through an SMTP-to-SMS gateway: the
// message is mailed to <number>@<gateway domain> and the carrier turns
// it into a text.
type Service struct {
	config *config.MailConfig
	client *mail.Client
	logger *logging.Service
}

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	if logger != nil {
		logger.Info("initializing mail service",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("encryption", cfg.Encryption),
			zap.String("from_address", cfg.FromAddress))
	}

	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("BOOKD_MAIL_FROM_ADDRESS is required")
	}
	if cfg.GatewayDomain == "" {
		return nil, fmt.Errorf("BOOKD_MAIL_GATEWAY_DOMAIN is required")
	}

	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	switch cfg.Encryption {
	case "tls", "starttls":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username))
	}
	if cfg.Password != "" {
		clientOpts = append(clientOpts, mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		if logger != nil {
			logger.Error("failed to create mail client",
				zap.Error(err),
				zap.String("host", cfg.Host),
				zap.Int("port", cfg.Port))
		}
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &Service{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// Deliver sends a plain-text message to the gateway address for the
// given phone number. The context deadline bounds the whole dial and
// send, so a slow SMTP server surfaces as context.DeadlineExceeded.
func (s *Service) Deliver(ctx context.Context, phoneNumber, message string) error {
	recipient := s.GatewayAddress(phoneNumber)

	msg := mail.NewMsg()
	if err := msg.From(s.config.FromAddress); err != nil {
		return fmt.Errorf("failed to set from address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("failed to set recipient address: %w", err)
	}
	msg.Subject("Verification code")
	msg.SetBodyString(mail.TypeTextPlain, message)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to deliver message",
				zap.Error(err),
				zap.String("recipient", recipient))
		}
		return err
	}

	if s.logger != nil {
		s.logger.Debug("message delivered", zap.String("recipient", recipient))
	}
	return nil
}

// GatewayAddress maps a phone number onto the carrier gateway's local
// part. Gateways reject the leading plus, so it is stripped.
func (s *Service) GatewayAddress(phoneNumber string) string {
	return strings.TrimPrefix(phoneNumber, "+") + "@" + s.config.GatewayDomain
}
