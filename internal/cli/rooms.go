package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/immxrtalbeast/meshconf/internal/api/http/converter"
	"github.com/immxrtalbeast/meshconf/internal/config"
	"github.com/immxrtalbeast/meshconf/internal/repository"
	"github.com/spf13/cobra"
)

var errRoomNotFound = errors.New("room not found")

var (
	flagRoomsAPI  string
	flagRoomsRoom string
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Show relay occupancy or the participants of one room",
	Long: `rooms queries the relay HTTP API. Without --room it prints the number of
live rooms and members; with --room it lists that room's participants.

Examples:
  participant rooms
  participant rooms --room standup --api http://relay:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if flagRoomsAPI != "" {
			cfg.APIURL = flagRoomsAPI
		}
		if flagRoomsRoom != "" {
			cfg.Room = flagRoomsRoom
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if cfg.Room == "" {
			var stats repository.Stats
			if err := getJSON(ctx, cfg.APIURL+"/api/rooms", &stats); err != nil {
				return err
			}
			renderStats(os.Stdout, stats.Rooms, stats.Members)
			return nil
		}

		var body struct {
			Participants []converter.ParticipantResponse `json:"participants"`
		}
		endpoint := cfg.APIURL + "/api/rooms/" + url.PathEscape(cfg.Room) + "/participants"
		if err := getJSON(ctx, endpoint, &body); err != nil {
			if errors.Is(err, errRoomNotFound) {
				printInfo("room " + cfg.Room + " is empty")
				return nil
			}
			return err
		}
		renderParticipants(os.Stdout, cfg.Room, body.Participants)
		return nil
	},
}

func init() {
	roomsCmd.Flags().StringVar(&flagRoomsAPI, "api", "", "relay HTTP base URL (default from MESH_API_URL)")
	roomsCmd.Flags().StringVar(&flagRoomsRoom, "room", "", "room to list (default from MESH_ROOM)")
	rootCmd.AddCommand(roomsCmd)
}

func getJSON(ctx context.Context, endpoint string, v any) error {
	endpoint = strings.TrimRight(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query relay: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errRoomNotFound
	default:
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("relay answered %s: %s", resp.Status, failure.Error)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
