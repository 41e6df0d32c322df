package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"aguabot/internal/ledger"
	"aguabot/internal/report"
	"aguabot/internal/roster"
	"aguabot/internal/workflow"
	"aguabot/lib/browser"
	"aguabot/lib/mailer"
	"aguabot/lib/secretbox"
	"aguabot/lib/telemetry"
	"aguabot/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

// The frame URL of the utility's duplicate-bill form, not the landing page
// that embeds it.
const portalURL = "https://seguro.cedae.com.br/segunda_via_web/pages/SegundaVia/ENTRADA.aspx"

const senderAddress = "robo@conectasolucoes.com.br"
const bodyFile = "config/corpo_email.html"

var (
	configPK   *bool
	configSMTP *bool
	headless   *bool
	verbose    *bool
)

func init() {
	configPK = rootCmd.Flags().Bool("config_pk", false, "Generates the key that encrypts the SMTP password at rest.")
	configSMTP = rootCmd.Flags().Bool("config_smtp", false, "Interactively writes config/smtp.yaml.")
	headless = rootCmd.Flags().Bool("headless", true, "Runs the browser without a visible window.")
	verbose = rootCmd.PersistentFlags().Bool("verbose", false, "Enables debug logging.")
}

var rootCmd = &cobra.Command{
	Use:   "aguabot",
	Short: "aguabot fetches this month's duplicate water bills and e-mails them to each account holder.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if *configPK {
			runConfigPK()
			return
		}
		if *configSMTP {
			runConfigSMTP()
			return
		}
		run(cmd.Context())
	},
}

func run(ctx context.Context) {
	telemetry.InstrumentPerfStats(ctx)

	err := workflow.CheckPortal(ctx, portalURL)
	if err != nil {
		serviceutil.Fatal("the bill portal is not reachable", err)
	}

	led := ledger.New(ledger.DefaultPath)
	err = led.EnsureCurrentCycle()
	if err != nil {
		serviceutil.Fatal("failed to prepare the processed-matriculas ledger", err)
	}

	accounts, err := roster.Load(roster.DefaultPath, led.ProcessedIDs())
	if err != nil {
		serviceutil.Fatal("failed to read the roster spreadsheet", err)
	}
	if len(accounts) == 0 {
		slog.Info("every matricula was already processed this cycle, nothing to do")
		return
	}
	slog.Info("matriculas pending this cycle", "count", len(accounts))

	mail := buildMailer()

	session, err := browser.NewChrome(ctx, browser.ChromeOptions{Headless: *headless})
	if err != nil {
		serviceutil.Fatal("failed to start the browser", err)
	}
	defer session.Close()

	engine := &workflow.Engine{
		Session:  session,
		Ledger:   led,
		Mail:     mail,
		Reporter: report.NewTableReporter(),
		BodyFile: bodyFile,
	}
	err = engine.Run(ctx, portalURL, accounts)
	if err != nil {
		serviceutil.Fatal("the run stopped before finishing every matricula", err)
	}
	slog.Info("all pending matriculas processed")
}

func buildMailer() *mailer.Mailer {
	cfg, err := mailer.LoadConfig(mailer.DefaultConfigPath)
	if err != nil {
		serviceutil.Fatal("failed to read the SMTP config, run with --config_smtp first", err)
	}
	key, err := secretbox.LoadKey(secretbox.DefaultKeyPath)
	if err != nil {
		serviceutil.Fatal("failed to read the encryption key, run with --config_pk first", err)
	}
	senha, err := secretbox.Decrypt(key, cfg.Senha)
	if err != nil {
		serviceutil.Fatal("failed to decrypt the SMTP password", err)
	}
	return &mailer.Mailer{
		Host:     cfg.Host,
		Port:     cfg.Porta,
		User:     cfg.Usuario,
		Password: senha,
		From:     senderAddress,
	}
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
