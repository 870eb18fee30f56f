package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/patchbay/internal/backends/redis"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/filter"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/watch"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const defaultRedisAddress = "redis://localhost:6379"

var (
	watchConfigPath   string
	watchAddress      string
	watchBus          string
	watchKey          string
	watchChannelGlob  string
	watchOrigin       string
	watchOutputFormat string
	watchValues       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch INSTANCE",
	Short: "Follow the values a redis instance publishes",
	Long: `Subscribe to the pub/sub channel of a redis backend instance and print
every value change as it is published, from this or any other patchbay.

Output Formats:
  default - Human-readable table with channel, value and origin
  jsonl   - Line-delimited JSON, one message per line

Examples:
  # Follow instance "bus" on the local Redis
  patchbay watch bus

  # Use the address, channel and key of instance "bus" in patchbay.yml
  patchbay watch bus -c patchbay.yml

  # Print the stored values first, then only fader changes, as JSONL
  patchbay watch bus --values --channel 'fader*' -o jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "c", "", "Take address, bus and key from this configuration's instance")
	watchCmd.Flags().StringVar(&watchAddress, "address", "", "Redis URL (default "+defaultRedisAddress+")")
	watchCmd.Flags().StringVar(&watchBus, "bus", "", "Pub/sub channel (default patchbay:INSTANCE)")
	watchCmd.Flags().StringVar(&watchKey, "key", "", "Value hash key (default patchbay:INSTANCE:values)")
	watchCmd.Flags().StringVar(&watchChannelGlob, "channel", "", "Filter by channel name (glob pattern)")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Filter by publishing process (exact match)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	watchCmd.Flags().BoolVar(&watchValues, "values", false, "Print the stored value of every channel before following")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	instance := args[0]
	if watchOutputFormat != "default" && watchOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format '%s'.", watchOutputFormat),
			[]string{"Use --output default or --output jsonl"},
		)
	}

	criteria := &filter.Criteria{ChannelGlob: watchChannelGlob, Origin: watchOrigin}
	if err := criteria.Validate(); err != nil {
		return printer.Error("invalid channel filter", err.Error(), nil)
	}

	target, err := resolveWatchTarget(instance)
	if err != nil {
		return err
	}
	bus, key := target.bus, target.key

	opts, err := goredis.ParseURL(target.address)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid Redis address",
			err.Error(),
			map[string]string{"Address": target.address},
			[]string{"Use a URL like redis://localhost:6379/0"},
		)
	}
	client := goredis.NewClient(opts)
	defer client.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return printer.ErrorWithContext(
			"Redis not accessible",
			err.Error(),
			map[string]string{"Address": target.address},
			[]string{"Check that Redis is running and --address is correct"},
		)
	}

	jsonl := watchOutputFormat == "jsonl"
	if watchValues {
		values, err := watch.Snapshot(ctx, client, key, criteria)
		if err != nil {
			return printer.Error("failed to read stored values", err.Error(), nil)
		}
		for _, v := range values {
			if err := printValue(jsonl, v); err != nil {
				return err
			}
		}
	}

	if !jsonl {
		if criteria.HasFilters() {
			printer.Step("Following %s (filtered)\n", bus)
		} else {
			printer.Step("Following %s\n", bus)
		}
		printer.Printf("%-20s %-10s %s\n", "CHANNEL", "VALUE", "ORIGIN")
	}
	err = watch.Stream(ctx, client, bus, criteria, func(msg *redis.Message) error {
		if jsonl {
			return printJSONLine(msg)
		}
		printer.Printf("%-20s %-10.4f %s\n", msg.Channel, msg.Value, shortOrigin(msg.Origin))
		return nil
	})
	if err != nil {
		return printer.Error("watch failed", err.Error(), nil)
	}
	return nil
}

type watchTarget struct {
	address string
	bus     string
	key     string
}

// resolveWatchTarget combines the flags with the options of the named
// instance in --config. Flags win, then instance options, then defaults.
func resolveWatchTarget(instance string) (*watchTarget, error) {
	target := &watchTarget{address: watchAddress, bus: watchBus, key: watchKey}
	if watchConfigPath != "" {
		cfg, err := loadConfig(watchConfigPath)
		if err != nil {
			return nil, err
		}
		inst := findInstance(cfg, instance)
		if inst == nil || inst.Backend != redis.Name {
			return nil, printer.ErrorWithContext(
				"not a redis instance",
				fmt.Sprintf("The configuration has no redis instance named '%s'.", instance),
				map[string]string{"Path": watchConfigPath},
				[]string{"Check the instance name and that its backend is redis"},
			)
		}
		fill := func(dst *string, option string) {
			if *dst != "" {
				return
			}
			if v, ok := inst.Options.Get(option); ok {
				*dst = v
			}
		}
		fill(&target.address, "address")
		fill(&target.bus, "channel")
		fill(&target.key, "key")
	}

	if target.address == "" {
		target.address = defaultRedisAddress
	}
	if target.bus == "" {
		target.bus = redis.ChannelName(instance)
	}
	if target.key == "" {
		target.key = redis.ValuesKey(instance)
	}
	return target, nil
}

func findInstance(cfg *config.PatchbayConfig, name string) *config.Instance {
	for i := range cfg.Instances {
		if cfg.Instances[i].Name == name {
			return &cfg.Instances[i]
		}
	}
	return nil
}

func printValue(jsonl bool, v watch.Value) error {
	if jsonl {
		return printJSONLine(v)
	}
	printer.Printf("%-20s %-10.4f %s\n", v.Channel, v.Value, "(stored)")
	return nil
}

func printJSONLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	printer.Println(string(line))
	return nil
}

// shortOrigin truncates an origin UUID to its first block.
func shortOrigin(origin string) string {
	if len(origin) > 8 {
		return origin[:8]
	}
	return origin
}
