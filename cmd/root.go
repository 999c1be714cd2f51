package cmd

import (
	"fmt"
	"os"
	"strings"

	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wormhole-demo/swim-relayer/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "swim-relayer",
	Short: "Relayer for Swim token bridge transfers carried by Wormhole VAAs",
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	rootCmd.PersistentFlags().Bool(
		"debug",
		false,
		"Enables debug output.")

	rootCmd.PersistentFlags().Bool(
		"json",
		false,
		"Enables structured logging in JSON format.")

	rootCmd.PersistentFlags().String(
		"config",
		"",
		"Path to the relayer config file (yaml or json)")

	rootCmd.PersistentFlags().String(
		"spy-rpc-host",
		config.DefaultSpyRPCHost,
		"Wormhole spy service endpoint")

	rootCmd.PersistentFlags().String(
		"redis-addr",
		config.DefaultRedisAddr,
		"Redis address holding the INCOMING and WORKING tables")

	// Bind flags to viper for env variable support
	viper.BindPFlag("spy_rpc_host", rootCmd.PersistentFlags().Lookup("spy-rpc-host"))
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))

	cobra.OnInitialize(initConfig)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("swim_relayer")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// loadConfig reads the file named by --config, if any, and returns the
// validated configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return config.Load(viper.GetViper())
}

func printBanner() {
	colours := []string{
		"\033[38;5;81m", // Cyan
		"\033[38;5;75m", // Light Blue
		"\033[38;5;69m", // Sky Blue
		"\033[38;5;63m", // Dodger Blue
		"\033[38;5;57m", // Deep Sky Blue
		"\033[38;5;51m", // Cornflower Blue
		"\033[38;5;45m", // Royal Blue
	}
	banner := `
  _________         .__             __________       .__
 /   _____/_  _  __ |__| _____      \______   \ ____ |  | _____  ___.__. ___________
 \_____  \\ \/ \/ / |  |/     \      |       _// __ \|  | \__  \<   |  |/ __ \_  __ \
 /        \\     /  |  |  Y Y  \     |    |   \  ___/|  |__/ __ \\___  \  ___/|  | \/
/_______  / \/\_/   |__|__|_|  /     |____|_  /\___  >____(____  / ____|\___  >__|
        \/                   \/             \/     \/          \/\/         \/
`
	lines := strings.Split(banner, "\n")

	// remove empty lines
	for i := 0; i < len(lines); i++ {
		if lines[i] == "" {
			lines = append(lines[:i], lines[i+1:]...)
			i--
		}
	}

	for i, line := range lines {
		fmt.Printf("%s%s\n", colours[i], line)
	}

	fmt.Println("\033[0m") // Reset
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Configure JSON output if requested
	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	// Replace the global logger
	zap.ReplaceGlobals(logger)

	return logger
}
