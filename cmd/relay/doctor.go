package relay

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/igorsilveira/relay/pkg/config"
	"github.com/igorsilveira/relay/pkg/hub"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the relay installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("relay doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg := config.Current()
	checks := []checkResult{
		checkDataDir(),
		checkConfig(),
		checkDatabase(cfg),
		checkMasterKey(cfg),
	}
	checks = append(checks, checkChannels(cmd.Context(), cfg)...)
	checks = append(checks, checkStatusAPI(cfg))

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() checkResult {
	path := configPath()
	if _, err := os.Stat(path); err != nil {
		return checkResult{"Config file", false, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	cfg := config.Current()
	return checkResult{"Config file", true, fmt.Sprintf("%s (%d channels)", path, len(cfg.Channels))}
}

func checkDatabase(cfg *config.Config) checkResult {
	info, err := os.Stat(cfg.Store.DSN)
	if err != nil {
		return checkResult{"Database", false, fmt.Sprintf("%s not found (created on first use)", cfg.Store.DSN)}
	}
	return checkResult{"Database", true, fmt.Sprintf("%s (%d KB)", cfg.Store.DSN, info.Size()/1024)}
}

func checkMasterKey(cfg *config.Config) checkResult {
	env := cfg.Credentials.MasterKeyEnv
	if os.Getenv(env) == "" {
		return checkResult{"Secret store", false, fmt.Sprintf("%s not set (token_secret entries cannot be resolved)", env)}
	}
	return checkResult{"Secret store", true, fmt.Sprintf("%s set", env)}
}

// checkChannels builds each enabled channel on its own so one bad channel
// does not hide the others. Adapters are never started.
func checkChannels(ctx context.Context, cfg *config.Config) []checkResult {
	if ctx == nil {
		ctx = context.Background()
	}

	deps := hub.Deps{Logger: telemetry.FromContext(ctx)}
	if env, err := openSecrets(cfg); err == nil {
		defer env.Close()
		deps.Secrets = env.secrets
	}

	var results []checkResult
	for _, name := range cfg.ChannelNames() {
		ch := cfg.Channels[name]
		label := fmt.Sprintf("Channel %s (%s)", name, ch.Kind(name))
		if !ch.Enabled {
			results = append(results, checkResult{label, true, "disabled"})
			continue
		}

		single := *cfg
		single.Channels = map[string]config.ChannelConfig{name: ch}
		built, err := hub.Build(ctx, &single, deps)
		if err != nil {
			results = append(results, checkResult{label, false, err.Error()})
			continue
		}
		setup := built.Adapters[0].SetupSpec()
		_ = built.Close()
		results = append(results, checkResult{label, true, fmt.Sprintf("configured (%d setup fields)", len(setup.Fields))})
	}

	if len(results) == 0 {
		results = append(results, checkResult{"Channels", false, "no channels configured"})
	}
	return results
}

func checkStatusAPI(cfg *config.Config) checkResult {
	url := statusURL(cfg, "/healthz")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return checkResult{"Status API", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Status API", true, fmt.Sprintf("running at :%d", cfg.Status.Port)}
	}
	return checkResult{"Status API", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}
