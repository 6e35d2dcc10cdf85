package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"viewsync/internal/app/event"
)

// apiClient talks to the server's HTTP endpoints and unwraps the response envelope.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// apiError is a non-success envelope.
type apiError struct {
	Status  int
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (code %d)", e.Status, e.Message, e.Code)
}

func (c *apiClient) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decode response of %s (HTTP %d)", req.URL.Path, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 || env.Code != 0 {
		return &apiError{Status: res.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}

func (c *apiClient) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) createRoom(ctx context.Context) (string, error) {
	var out struct {
		RoomID string `json:"roomId"`
	}
	if err := c.post(ctx, "/api/rooms", &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

// roomFile returns the room's current file. ok is false when the room has none.
func (c *apiClient) roomFile(ctx context.Context, roomID string) (f event.FileUploadedPayload, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/room-file?"+url.Values{"roomId": {roomID}}.Encode(), nil)
	if err != nil {
		return f, false, err
	}

	err = c.do(req, &f)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return f, false, nil
	}
	if err != nil {
		return f, false, err
	}
	return f, true, nil
}

func (c *apiClient) upload(ctx context.Context, roomID, path string) (event.FileUploadedPayload, error) {
	var out event.FileUploadedPayload

	file, err := os.Open(path)
	if err != nil {
		return out, err
	}
	defer file.Close()

	// Stream the multipart body instead of buffering model files in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("roomId", roomID)
		if err == nil {
			var part io.Writer
			if part, err = mw.CreateFormFile("file", filepath.Base(path)); err == nil {
				if _, err = io.Copy(part, file); err == nil {
					err = mw.Close()
				}
			}
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return out, c.do(req, &out)
}

func (c *apiClient) keepalive(ctx context.Context) (roomID string, window time.Duration, err error) {
	var out struct {
		RoomID   string `json:"roomId"`
		WindowMs int64  `json:"windowMs"`
	}
	if err := c.post(ctx, "/api/demo/keepalive", &out); err != nil {
		return "", 0, err
	}
	return out.RoomID, time.Duration(out.WindowMs) * time.Millisecond, nil
}

func (c *apiClient) absolute(fileURL string) string {
	if strings.HasPrefix(fileURL, "/") {
		return c.base + fileURL
	}
	return fileURL
}

var newRoomCmd = &cobra.Command{
	Use:   "new-room",
	Short: "Ask the server for a fresh room id.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newAPIClient().createRoom(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var roomFileCmd = &cobra.Command{
	Use:   "room-file <roomId>",
	Short: "Print the file currently associated with a room.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := newAPIClient()
		f, ok, err := api.roomFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "room %s has no file\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.Filename, api.absolute(f.FileURL))
		return nil
	},
}

var uploadRoomID string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a model file and make it the room's current file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := newAPIClient()
		f, err := api.upload(cmd.Context(), uploadRoomID, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.Filename, api.absolute(f.FileURL))
		return nil
	},
}

var keepaliveCmd = &cobra.Command{
	Use:   "keepalive",
	Short: "Keep the demo room's bots moving for one keepalive window.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, window, err := newAPIClient().keepalive(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "demo room %s active for %s\n", roomID, window)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadRoomID, "room", "r", "",
		"Target room id. The server uses its default room when empty.")
}
