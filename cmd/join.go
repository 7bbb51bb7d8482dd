package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/internal/session"
	"github.com/pairlink/pairlink/internal/signaling"
	"github.com/pairlink/pairlink/internal/ui"
	"github.com/pairlink/pairlink/internal/webrtc"
)

const dialTimeout = 15 * time.Second

var (
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagNoFallback  bool
	flagMetricsAddr string
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Join a room, or create one, and open a session with the peer",
	Long: `Join a room and open a session with the other participant. Without an
argument a new room is created and its ID printed for the peer to use.

Lines typed at the prompt are sent to the peer; lines from the peer are
printed as they arrive. The session connects directly when it can and falls
back to relaying through the rendezvous server when it cannot.

Examples:
  pairlink join
  pairlink join ABCD1234
  pairlink join https://pairlink.example.com/r/ABCD1234
  pairlink join ABCD1234 --relay --turn turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			id, fromURL, err := parseRoomInput(args[0])
			if err != nil {
				return err
			}
			if fromURL {
				ui.PrintSuccessf("Extracted room ID: %s", id)
			}
			roomID = id
		}
		return join(cmd.Context(), roomID)
	},
}

func join(ctx context.Context, roomID string) error {
	cfg, err := LoadConfig(config.Options{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		NoFallback: flagNoFallback,
	})
	if err != nil {
		return err
	}
	log := newLogger(cfg, zerolog.ErrorLevel)

	retry, fallback := session.PoliciesFromConfig(cfg.Session)
	scfg := session.Config{
		Retry:    retry,
		Fallback: fallback,
		NewPeer:  webrtc.NewFactory(webrtc.OptionsFromConfig(cfg, logging.Component(log, "webrtc"))),
		Log:      log,
	}
	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		scfg.Recorder = session.NewRecorder(reg)
		stopMetrics := serveMetrics(flagMetricsAddr, reg, log)
		defer stopMetrics()
	}

	fmt.Println()
	stopSpinner := ui.RunConnectionSpinner("Connecting to rendezvous server...")
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	s, res, err := session.Connect(dialCtx, cfg.Signaling.URL, roomID, scfg)
	cancel()
	stopSpinner()
	if err != nil {
		if errors.Is(err, session.ErrRoomFull) {
			return fmt.Errorf("room %s is full: only two participants may join a room", signaling.NormalizeRoomID(roomID))
		}
		return err
	}
	defer s.Close()
	events := s.Events()

	role := string(signaling.RoleGuest)
	if res.IsHost {
		role = string(signaling.RoleHost)
	}
	if roomID == "" {
		fmt.Println(ui.NewRoomInfo(res.RoomID, cfg.GetRoomLink(res.RoomID)).View())
	} else {
		ui.PrintSuccessf("Joined room %s as %s", res.RoomID, role)
	}

	model := ui.NewSessionModel(res.RoomID, role, s.Send)
	p := tea.NewProgram(model, tea.WithContext(ctx))
	go func() {
		for ev := range events {
			p.Send(ui.EventMsg(ev))
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run session view: %w", err)
	}
	s.Close()

	final, cause := model.State()
	m := s.Metrics()
	fmt.Println()
	ui.RenderSessionSummary(ui.SessionSummary{
		Room:                res.RoomID,
		Role:                role,
		FinalState:          final.String(),
		Attempts:            m.Attempts,
		DirectSuccesses:     m.DirectSuccesses,
		FallbackActivations: m.FallbackActivations,
		TimeToConnect:       m.TimeToConnect,
		Sent:                model.Sent,
		Received:            model.Received,
	})

	if final == session.Failed {
		if cause == nil {
			cause = errors.New("session failed")
		}
		return cause
	}
	return nil
}

// serveMetrics exposes the session counters of this process.
func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", addr).Msg("metrics listener failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// parseRoomInput accepts a bare room ID or a room link of the form
// https://host/r/<id>. fromURL reports which one it was.
func parseRoomInput(input string) (id string, fromURL bool, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false, fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		id, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", false, err
		}
		return signaling.NormalizeRoomID(id), true, nil
	}

	return signaling.NormalizeRoomID(input), false, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force TURN relay for the direct path")
	joinCmd.Flags().BoolVar(&flagNoFallback, "no-fallback", false, "Fail instead of relaying through the rendezvous server")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Expose session metrics on this address (e.g. :9100)")
}
