package workflow

import (
	"context"
	"fmt"
	"time"

	"aguabot/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

func newPreflightClient() *resty.Client {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "aguabot/workflow/http")
	return client
}

var preflightClient = newPreflightClient()

// CheckPortal probes the duplicate-bill service before the browser is even
// started. Anything outside 2xx means the URL moved or the service is down,
// either way the run cannot proceed.
func CheckPortal(ctx context.Context, url string) error {
	res, err := preflightClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return fmt.Errorf("portal returned status %d", res.StatusCode())
	}
	return nil
}
