package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porterhq/porter/ai/core/llm"
	"github.com/porterhq/porter/ai/memory"
	"github.com/porterhq/porter/ai/metrics"
	"github.com/porterhq/porter/ai/pipeline"
	"github.com/porterhq/porter/ai/routing"
	"github.com/porterhq/porter/internal/profile"
	"github.com/porterhq/porter/internal/version"
	"github.com/porterhq/porter/plugin/chat_apps/whatsapp"
	"github.com/porterhq/porter/plugin/webhook"
	"github.com/porterhq/porter/server"
	apiv1 "github.com/porterhq/porter/server/router/api/v1"
	"github.com/porterhq/porter/server/service/approval"
	"github.com/porterhq/porter/server/service/dispatch"
	"github.com/porterhq/porter/store"
)

var rootCmd = &cobra.Command{
	Use:   "porter",
	Short: `A multi-channel conversational assistant gateway: intent routing, direct tool automation, approval-gated actions, and persistent session context.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}
		if instanceProfile.IsDev() {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := buildServer(ctx, instanceProfile)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		signal.Notify(c, terminationSignals...)

		errCh := s.Start(ctx)
		printGreetings(instanceProfile)

		go func() {
			select {
			case <-c:
			case err := <-errCh:
				slog.Error("server stopped unexpectedly", "error", err)
			}
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

// buildServer wires the whole gateway: storage tiers, the two LLM roles, the
// routing engine, memory, the dispatcher, the approval service, and the HTTP
// surface.
func buildServer(ctx context.Context, p *profile.Profile) (*server.Server, error) {
	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var st *store.Store
	var sessionStore apiv1.SessionStore
	var channelLogger whatsapp.ChannelLogger
	st, err := store.New(ctx, p)
	if err != nil {
		// Chat still answers without persistence; replies are flagged
		// ephemeral.
		slog.Warn("store unavailable, running without persistence", "error", err)
	} else {
		st.SetMetrics(exporter)
		sessionStore = st
		channelLogger = st
	}

	fast := buildLLM(p.FastLLM, "fast", exporter)
	fluent := buildLLM(p.FluentLLM, "fluent", exporter)
	if fast != nil {
		go func() {
			warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer warmupCancel()
			fast.Warmup(warmupCtx)
		}()
	}

	var mem *memory.Service
	if p.MemoryEnabled {
		mem, err = memory.NewService(memory.Config{
			Path:            p.MemoryFile(),
			LLM:             fast,
			ExtractImplicit: p.ImplicitMemory,
		})
		if err != nil {
			slog.Warn("memory service unavailable", "error", err)
		}
	}

	var gateway dispatch.Gateway
	if p.ToolGatewayURL != "" {
		gateway = dispatch.NewHTTPGateway(p.ToolGatewayURL)
	} else {
		slog.Info("no tool gateway configured, using demo tool data")
		gateway = dispatch.DemoGateway{}
	}
	dispatcher := dispatch.NewDispatcher(gateway, dispatch.NewCredentialStore(), exporter)
	dispatcher.RestrictFamilies(p.DirectToolEnabled)

	approvals := approval.NewService(webhook.NewSender(p.WebhookURL), st, exporter)

	pl := pipeline.New(pipeline.Config{
		Store:      pipelineStore(st),
		Engine:     routing.NewEngine(fast),
		Memory:     mem,
		Dispatcher: dispatcher,
		Approvals:  approvals,
		Fast:       fast,
		Fluent:     fluent,
		Metrics:    exporter,
	})

	api := apiv1.NewAPIV1Service(p, pl, approvals, mem, sessionStore, exporter)

	var bridge *whatsapp.Gateway
	if p.BridgeToken != "" {
		validationID := p.BridgeValidationID
		if validationID == "" {
			validationID = "porter-bridge"
		}
		bridge = whatsapp.NewGateway(p.BridgeToken, validationID, pl, channelLogger)
	} else {
		slog.Info("bridge token not set, whatsapp bridge disabled")
	}

	return server.NewServer(ctx, p, api, bridge)
}

// pipelineStore avoids handing the pipeline a non-nil interface wrapping a
// nil *store.Store.
func pipelineStore(st *store.Store) pipeline.ContextStore {
	if st == nil {
		return nil
	}
	return st
}

func buildLLM(lp profile.LLMProfile, role string, usage llm.UsageRecorder) llm.Service {
	if lp.APIKey == "" && lp.Provider != "ollama" {
		slog.Info("llm role not configured", "role", role, "provider", lp.Provider)
		return nil
	}
	svc, err := llm.NewService(&llm.Config{
		Provider: lp.Provider,
		Model:    lp.Model,
		APIKey:   lp.APIKey,
		BaseURL:  lp.BaseURL,
		Timeout:  lp.Timeout,
		Role:     role,
		Usage:    usage,
	})
	if err != nil {
		slog.Warn("llm service init failed", "role", role, "provider", lp.Provider, "error", err)
		return nil
	}
	slog.Info("llm service initialized", "role", role, "provider", lp.Provider, "model", lp.Model)
	return svc
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("port", 8000)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8000, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")

	for _, flag := range []string{"mode", "addr", "port", "data"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("porter")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Porter %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Data directory: %s\n", p.Data)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
