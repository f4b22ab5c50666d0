// Command make_call places a single outbound call through the configured
// dialer, for smoke-testing a deployed gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/ecomatrix/voicegate/pkg/dialer"
)

type dialerConfig struct {
	Dialer dialer.Config `mapstructure:"dialer"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}
	cfg, err := loadDialerConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	d := dialer.New(cfg.Dialer, nil)
	callID, err := d.DialWithOptions(context.Background(), *to, *from, *voiceURL, dialer.DialOptions{
		SendDigits: *sendDigits,
	})
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	fmt.Println("call placed:", callID)
}

func loadDialerConfig(path string) (dialerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return dialerConfig{}, err
	}
	var cfg dialerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return dialerConfig{}, err
	}
	for _, s := range []*string{&cfg.Dialer.AccountSID, &cfg.Dialer.AuthToken, &cfg.Dialer.VoiceURL} {
		*s = os.ExpandEnv(*s)
	}
	return cfg, nil
}
