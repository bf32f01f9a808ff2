package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/immxrtalbeast/meshconf/internal/config"
	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/media"
	"github.com/immxrtalbeast/meshconf/internal/peer"
	"github.com/immxrtalbeast/meshconf/internal/session"
	"github.com/immxrtalbeast/meshconf/internal/signaling"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	videoFrameInterval = 33 * time.Millisecond
	audioFrameInterval = 20 * time.Millisecond
)

var (
	flagJoinServer string
	flagJoinRoom   string
	flagJoinName   string
	flagJoinSTUN   []string
	flagJoinTURN   []string
	flagJoinScreen bool
	flagJoinEnv    string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stay until /quit or Ctrl-C",
	Long: `join connects to the relay, enters the room and opens a direct link to
every participant. Lines typed on stdin are sent as chat.

Commands:
  /share    share the (synthetic) screen instead of the camera
  /unshare  go back to the camera
  /mute     stop sending audio
  /unmute   resume audio
  /hide     stop sending camera video
  /show     resume camera video
  /wave     wave at everyone over the peer data channels
  /peers    print the state of every peer link
  /quit     leave the room

Examples:
  participant join --room standup --name alice
  participant join --server ws://relay:8080/ws --room standup --name bob --screen`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		applyJoinFlags(cfg)
		if cfg.Room == "" {
			return errors.New("a room is required (--room or MESH_ROOM)")
		}
		if cfg.Name == "" {
			cfg.Name = "guest"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runJoin(ctx, cfg, os.Stdin)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "relay websocket URL (default from MESH_SERVER_URL)")
	joinCmd.Flags().StringVar(&flagJoinRoom, "room", "", "room to join (default from MESH_ROOM)")
	joinCmd.Flags().StringVar(&flagJoinName, "name", "", "display name (default from MESH_NAME)")
	joinCmd.Flags().StringSliceVar(&flagJoinSTUN, "stun", nil, "STUN server URL, repeatable")
	joinCmd.Flags().StringSliceVar(&flagJoinTURN, "turn", nil, "TURN server URL, repeatable")
	joinCmd.Flags().BoolVar(&flagJoinScreen, "screen", false, "start sharing the screen right after joining")
	joinCmd.Flags().StringVar(&flagJoinEnv, "env", "", "log format: local, dev or prod")
	rootCmd.AddCommand(joinCmd)
}

func applyJoinFlags(cfg *config.Client) {
	if flagJoinServer != "" {
		cfg.ServerURL = flagJoinServer
	}
	if flagJoinRoom != "" {
		cfg.Room = flagJoinRoom
	}
	if flagJoinName != "" {
		cfg.Name = flagJoinName
	}
	if len(flagJoinSTUN) > 0 {
		cfg.WebRTC.STUNServers = flagJoinSTUN
	}
	if len(flagJoinTURN) > 0 {
		cfg.WebRTC.TURNServers = flagJoinTURN
	}
	if flagJoinEnv != "" {
		cfg.Env = flagJoinEnv
	}
}

func runJoin(ctx context.Context, cfg *config.Client, in io.Reader) error {
	log := setupLogger(cfg.Env)
	names := &nameBook{names: make(map[string]string)}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	channel, err := signaling.Dial(dialCtx, cfg.ServerURL, cfg.SendBuffer, log)
	cancel()
	if err != nil {
		return err
	}

	controller := media.NewController(media.NewSyntheticSource(), log)
	var sess *session.Session
	sess, err = session.New(channel, controller, peer.ConfigFrom(cfg.WebRTC), log,
		session.WithChatHandler(func(msg domain.ChatMessage) {
			printChat(msg.CreatedAt, label(msg.ParticipantID, msg.DisplayName), msg.ParticipantID == sess.SelfID(), msg.Content)
		}),
		session.WithRosterHandler(func(ev session.RosterEvent) {
			p := ev.Participant
			if ev.Joined {
				names.set(p.ID, p.DisplayName)
				printJoined(label(p.ID, p.DisplayName))
				return
			}
			printLeft(label(p.ID, p.DisplayName))
		}),
		session.WithPeerOptions(
			peer.WithRenderer(&terminalRenderer{names: names, log: log}),
			peer.WithStateObserver(func(id string, state peer.LinkState) {
				if state == peer.StateFailed {
					printInfo("link to " + names.label(id) + " failed")
				}
			}),
			peer.WithDataHandler(func(id, kind string, payload msgpack.RawMessage) {
				var text string
				if err := peer.DecodePayload(payload, &text); err != nil {
					log.Debug("undecodable data payload", slog.String("kind", kind), sl.Err(err))
					return
				}
				printInfo(fmt.Sprintf("%s sent %s: %s", names.label(id), kind, text))
			}),
		),
	)
	if err != nil {
		_ = channel.Close()
		return err
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Leave(leaveCtx)
	}()

	others, err := sess.Join(ctx, cfg.Room, cfg.Name)
	if err != nil {
		return err
	}
	printBanner(cfg.Room, label(sess.SelfID(), cfg.Name), len(others))

	feedCtx, stopFeeds := context.WithCancel(ctx)
	defer stopFeeds()
	feedStream(feedCtx, controller.CameraStream())

	if flagJoinScreen {
		share(feedCtx, controller, log)
	}

	lines := make(chan string)
	go readLines(in, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			if errors.Is(sess.Err(), session.ErrLeft) {
				return nil
			}
			return sess.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if quit := handleLine(ctx, feedCtx, sess, cfg.Name, line, log); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx, feedCtx context.Context, sess *session.Session, name, line string, log *slog.Logger) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	controller := sess.Media()
	switch line {
	case "/quit":
		return true
	case "/share":
		share(feedCtx, controller, log)
	case "/unshare":
		if err := controller.StopScreenShare(ctx); err != nil {
			PrintError(err.Error())
		}
	case "/mute":
		controller.SetAudioEnabled(false)
		printInfo("audio muted")
	case "/unmute":
		controller.SetAudioEnabled(true)
		printInfo("audio on")
	case "/hide":
		controller.SetVideoEnabled(false)
		printInfo("camera off")
	case "/show":
		controller.SetVideoEnabled(true)
		printInfo("camera on")
	case "/wave":
		if err := sess.Peers().BroadcastData("wave", name+" waves"); err != nil {
			PrintError(err.Error())
		}
	case "/peers":
		states := sess.Peers().States()
		for _, p := range sess.Roster() {
			printInfo(fmt.Sprintf("%s %s", label(p.ID, p.DisplayName), states[p.ID]))
		}
	default:
		if strings.HasPrefix(line, "/") {
			PrintError("unknown command " + line)
			return false
		}
		if err := sess.SendChat(ctx, line); err != nil {
			PrintError(err.Error())
		}
	}
	return false
}

func share(ctx context.Context, controller *media.Controller, log *slog.Logger) {
	if err := controller.StartScreenShare(ctx); err != nil {
		PrintError(err.Error())
		return
	}
	if controller.ActiveVideoSource() != media.VideoSourceScreen {
		printInfo("screen share unavailable")
		return
	}
	feedStream(ctx, controller.ScreenStream())
	log.Debug("feeding screen capture")
}

// feedStream writes synthetic frames to every track of the stream until it
// ends.
func feedStream(ctx context.Context, stream *media.Stream) {
	if stream == nil {
		return
	}
	if stream.Audio != nil {
		go media.Feed(ctx, stream.Audio, make([]byte, 160), audioFrameInterval)
	}
	if stream.Video != nil {
		go media.Feed(ctx, stream.Video, make([]byte, 1200), videoFrameInterval)
	}
}

func readLines(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

type nameBook struct {
	mu    sync.RWMutex
	names map[string]string
}

func (b *nameBook) set(id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name != "" {
		b.names[id] = name
	}
}

func (b *nameBook) label(id string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return label(id, b.names[id])
}

// terminalRenderer reports remote tracks and discards their packets.
type terminalRenderer struct {
	names *nameBook
	log   *slog.Logger
}

func (r *terminalRenderer) TrackAdded(participantID string, track *webrtc.TrackRemote) {
	printInfo(fmt.Sprintf("receiving %s from %s", track.Kind(), r.names.label(participantID)))

	go func() {
		packets := 0
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				r.log.Debug("remote track ended",
					slog.String("participant_id", participantID),
					slog.String("kind", track.Kind().String()),
					slog.Int("packets", packets),
				)
				return
			}
			packets++
		}
	}()
}

func (r *terminalRenderer) ParticipantRemoved(participantID string) {
	r.log.Debug("participant media removed", slog.String("participant_id", participantID))
}
