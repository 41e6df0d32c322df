package main

import (
	"aguabot/cmd/aguabot/commands"
	"aguabot/lib/telemetry"
	"aguabot/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "aguabot")
	commands.ExecuteContext(ctx)
}
