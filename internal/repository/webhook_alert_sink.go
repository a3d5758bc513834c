package repository

import (
	"context"
	"fmt"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	pkghttp "OrbWatch/pkg/http"
)

// WebhookAlertSink POSTs alert events as JSON to a configured endpoint.
type WebhookAlertSink struct {
	client  *pkghttp.Client
	url     string
	headers map[string]string
}

func NewWebhookAlertSink(client *pkghttp.Client, url string, headers map[string]string) *WebhookAlertSink {
	return &WebhookAlertSink{client: client, url: url, headers: headers}
}

func (s *WebhookAlertSink) Publish(ctx context.Context, ev *models.AlertEvent) error {
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     s.url,
		Headers: s.headers,
		Body:    ev,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", models.ErrDelivery, err)
	}
	return nil
}

func (s *WebhookAlertSink) Close() error {
	return nil
}

var _ domrepo.AlertSink = (*WebhookAlertSink)(nil)
