package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PPRealtime/global/config"
	"PPRealtime/module/chat"
	"PPRealtime/module/notify"
	"PPRealtime/service/realtime"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "ppchat"

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags 命令行覆盖环境变量
type flags struct {
	baseURL     string
	token       string
	username    string
	transport   string
	metricsAddr string
	logLevel    string
	wait        time.Duration
}

func (f *flags) apply(cfg *config.AppConfig) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.BaseURL, f.baseURL)
	set(&cfg.Token, f.token)
	set(&cfg.Username, f.username)
	set(&cfg.Transport, f.transport)
	set(&cfg.MetricsAddr, f.metricsAddr)
	set(&cfg.LogLevel, f.logLevel)
	return cfg.Normalize()
}

func (f *flags) load() (config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if err := f.apply(&cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyLogLevel()
	if cfg.Token == "" {
		return cfg, errs.ErrNotAuthenticated.WrapMsg("set " + config.EnvPrefix + "TOKEN or --token")
	}
	return cfg, nil
}

func rootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Realtime chat client over STOMP/WebSocket or NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.baseURL, "base-url", "", "server base url (env "+config.EnvPrefix+"BASE_URL)")
	pf.StringVar(&f.token, "token", "", "bearer token (env "+config.EnvPrefix+"TOKEN)")
	pf.StringVar(&f.username, "user", "", "local username, default from token claims")
	pf.StringVar(&f.transport, "transport", "", "stomp|nats")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "expose /metrics and /healthz on this address")
	pf.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	pf.DurationVar(&f.wait, "wait", 15*time.Second, "how long to wait for the connection")

	cmd.AddCommand(listenCmd(f), sendCmd(f), groupCmd(f), whoamiCmd(f), tokenCmd(), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}

// whoamiCmd 打印 token 里的身份；给了 --secret 时同时验签（和本地 broker 共用密钥时排查用）
func whoamiCmd(f *flags) *cobra.Command {
	var secret string
	c := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity carried by the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			var id security.Identity
			if secret != "" {
				id, err = security.Verify(security.DefaultOptions([]byte(secret)), cfg.Token)
			} else {
				id, err = security.ParseIdentity(cfg.Token)
			}
			if err != nil {
				return errs.ErrNotAuthenticated.WrapMsg(err.Error())
			}
			verified := "unverified"
			if secret != "" {
				verified = "verified"
			}
			exp := "never"
			if !id.ExpiresAt.IsZero() {
				exp = id.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) expires %s token %s\n", id.Username, verified, exp, security.HashToken(cfg.Token))
			return nil
		},
	}
	c.Flags().StringVar(&secret, "secret", "", "HMAC secret to verify the signature")
	return c
}

// tokenCmd 给本地开发 broker 签一个 token
func tokenCmd() *cobra.Command {
	var (
		secret string
		user   string
		ttl    time.Duration
	)
	c := &cobra.Command{
		Use:   "token --secret <s> --for <user>",
		Short: "Sign a development token for a local broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := security.DefaultOptions([]byte(secret))
			opts.TTL = ttl
			tok, err := security.Generate(opts, user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().StringVar(&secret, "secret", "", "HMAC secret shared with the broker")
	c.Flags().StringVar(&user, "for", "", "username to put in sub/username")
	c.Flags().DurationVar(&ttl, "ttl", 2*time.Hour, "token lifetime")
	_ = c.MarkFlagRequired("secret")
	_ = c.MarkFlagRequired("for")
	return c
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printMessage(m realtime.InboundMessage) {
	body := m.Content
	if m.MediaType == realtime.MediaFile {
		body = fmt.Sprintf("[file %s] %s", m.FileName, m.FileURL)
	}
	where := m.Sender
	if m.Group != "" {
		where = m.Group + "/" + m.Sender
	}
	fmt.Printf("%s %-6s %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Kind, where, body)
}

func printNotification(n notify.Notification) {
	fmt.Printf("* %s from %s: %s\n", strings.ToLower(n.Type), n.Sender, n.Content)
}

func printView(state chat.ViewState, msgs []chat.Message) {
	if state != chat.Live || len(msgs) == 0 {
		return
	}
	m := msgs[len(msgs)-1]
	fmt.Printf("%s [%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Origin, m.Sender, m.Content)
}

// boot 加载配置、连接，并等到 Connected
func boot(f *flags, onNotify func(notify.Notification)) (context.Context, context.CancelFunc, *app, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := newApp(cfg, onNotify)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signalContext()
	wctx, wcancel := context.WithTimeout(ctx, f.wait)
	defer wcancel()
	if err := a.start(wctx); err != nil {
		cancel()
		a.stop()
		return nil, nil, nil, err
	}
	a.log.Info("[ppchat] ready", zap.String("user", a.session.Identity()), zap.String("transport", cfg.Transport))
	return ctx, cancel, a, nil
}

func listenCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print private messages and notifications until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := boot(f, printNotification)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.stop()

			wctx, wcancel := context.WithTimeout(ctx, f.wait)
			defer wcancel()
			if _, err := a.session.AwaitSubscribe(wctx, realtime.PrivateChannel(), printMessage); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}

func sendCmd(f *flags) *cobra.Command {
	var to string
	c := &cobra.Command{
		Use:   "send --to <user> <text>",
		Short: "Persist and publish a private message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := boot(f, nil)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.stop()

			pc := chat.NewPrivateChat(a.chatOptions(nil))
			if err := pc.Open(ctx, to); err != nil {
				a.log.Warn("[ppchat] history unavailable", zap.Error(err))
			}
			m, err := pc.Send(ctx, chat.SendInput{Content: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			fmt.Printf("sent id=%s at %s\n", m.ID, m.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().StringVar(&to, "to", "", "receiver username")
	_ = c.MarkFlagRequired("to")
	return c
}

func groupCmd(f *flags) *cobra.Command {
	var name string
	c := &cobra.Command{
		Use:   "group --name <group> [text]",
		Short: "Open a group chat; send text if given, otherwise follow it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := boot(f, printNotification)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.stop()

			follow := len(args) == 0
			var onChange func(chat.ViewState, []chat.Message)
			if follow {
				onChange = printView
			}
			gc := chat.NewGroupChat(a.chatOptions(onChange))
			if err := gc.Open(ctx, name); err != nil {
				a.log.Warn("[ppchat] history unavailable", zap.Error(err))
			}
			if follow {
				for _, m := range gc.Messages() {
					fmt.Printf("%s [%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Origin, m.Sender, m.Content)
				}
				<-ctx.Done()
				return nil
			}
			m, err := gc.Send(ctx, chat.SendInput{Content: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			fmt.Printf("sent id=%s to %s\n", m.ID, name)
			return nil
		},
	}
	c.Flags().StringVar(&name, "name", "", "group name")
	_ = c.MarkFlagRequired("name")
	return c
}
