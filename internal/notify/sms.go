package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSTransport sends text messages through Twilio.
type SMSTransport struct {
	From   string
	client *twilio.RestClient
}

func NewSMSTransport(accountSID, authToken, from string) *SMSTransport {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &SMSTransport{From: from, client: client}
}

func (s *SMSTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(env.To)
	params.SetFrom(s.From)
	params.SetBody(env.Body)
	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms send to %s: %w", env.To, err)
	}
	return nil
}
