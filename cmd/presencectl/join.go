package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"viewsync/internal/app/event"
	"viewsync/internal/client/follow"
	"viewsync/internal/client/identity"
	"viewsync/internal/client/presence"
	"viewsync/internal/client/transport"
	"viewsync/internal/client/transport/relay"
	"viewsync/internal/client/transport/socket"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/vec"
)

// frameInterval is the virtual camera's render tick.
const frameInterval = 33 * time.Millisecond

const joinHelp = `Type a line to chat. Commands:
  /select <expressId>   highlight an element
  /clear                clear the highlight
  /move x y z [dx dy dz]  move the camera (stops following)
  /follow <name>        follow a user's camera
  /unfollow             stop following
  /who                  list present users
  /where                print the camera pose
  /name <new name>      rename yourself
  /quit                 leave the room`

var joinCmd = &cobra.Command{
	Use:   "join <roomId>",
	Short: "Join a room and take part from the terminal.",
	Long:  "Join a room and take part from the terminal.\n\n" + joinHelp,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := resolveIdentity()
		if err != nil {
			return err
		}

		ch, closeTransport, err := openTransport(ctx, id)
		if err != nil {
			return err
		}
		defer closeTransport()

		s := newSession(cmd.OutOrStdout(), ch, id)
		return s.run(ctx, args[0], cmd.InOrStdin())
	},
}

// resolveIdentity loads the session identity, creating it on first use and renaming it
// when --name differs.
func resolveIdentity() (*identity.UserIdentity, error) {
	store := identityStore()

	id := store.Get()
	if id == nil {
		name := strings.TrimSpace(userName)
		if name == "" {
			name = "Guest"
		}
		created, err := store.Create(name)
		if err != nil {
			logx.Warn("Identity not persisted", "error", err.Error())
		}
		return created, nil
	}

	if userName != "" && userName != id.Name {
		name := strings.TrimSpace(userName)
		updated, err := store.Update(identity.Patch{Name: &name})
		if err != nil {
			return nil, errors.Wrap(err, "rename identity")
		}
		if updated != nil {
			id = updated
		}
	}
	return id, nil
}

// openTransport builds the channel selected by --transport.
func openTransport(ctx context.Context, id *identity.UserIdentity) (transport.Channel, func(), error) {
	switch transportName {
	case transportSocket:
		wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(serverURL, "/"), "http") + "/ws"
		t, err := socket.Dial(ctx, wsURL, id.ID)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	case transportRelay:
		t := relay.New(serverURL, relayKey)
		return t, func() { _ = t.Close() }, nil
	default:
		return nil, nil, errors.Errorf("unknown transport %q (want %q or %q)", transportName, transportSocket, transportRelay)
	}
}

// virtualCamera stands in for the viewer's camera.
type virtualCamera struct {
	mu  sync.Mutex
	pos vec.Vec3
	dir vec.Vec3
}

func (c *virtualCamera) Position() vec.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *virtualCamera) Direction() vec.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

func (c *virtualCamera) SetPosition(p vec.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = p
}

func (c *virtualCamera) LookAt(target vec.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := target.Sub(c.pos); d.LenSq() > 0 {
		c.dir = d.Normalize()
	}
}

// session is one interactive room membership.
type session struct {
	out io.Writer
	id  *identity.UserIdentity

	presence *presence.Reconciler
	camera   *virtualCamera
	tracker  *presence.CameraTracker
	follow   *follow.Controller

	// printMu guards printed and serializes output.
	printMu sync.Mutex
	printed map[string]struct{}
}

func newSession(out io.Writer, ch transport.Channel, id *identity.UserIdentity) *session {
	s := &session{
		out:     out,
		id:      id,
		camera:  &virtualCamera{dir: vec.Forward},
		printed: make(map[string]struct{}),
	}

	s.presence = presence.New(ch,
		presence.WithOnChange(s.printNewMessages),
		presence.WithOnFile(func(f event.FileUploadedPayload) {
			s.printf("* file: %s (%s)\n", f.Filename, newAPIClient().absolute(f.FileURL))
		}),
	)
	s.tracker = presence.NewCameraTracker(s.presence)
	s.follow = follow.New(s.camera, s.presence, follow.DefaultConfig())
	s.follow.OnExit(func(userID string) {
		s.printf("* stopped following %s\n", userID)
	})
	return s
}

func (s *session) printf(format string, args ...any) {
	s.printMu.Lock()
	defer s.printMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *session) printNewMessages() {
	msgs := s.presence.Messages()

	s.printMu.Lock()
	defer s.printMu.Unlock()
	for _, m := range msgs {
		if _, seen := s.printed[m.ID]; seen {
			continue
		}
		s.printed[m.ID] = struct{}{}

		at := time.UnixMilli(m.Timestamp).Format("15:04:05")
		if m.Kind == event.KindEvent {
			fmt.Fprintf(s.out, "[%s] * %s\n", at, m.Text)
			continue
		}
		fmt.Fprintf(s.out, "[%s] <%s> %s\n", at, m.SenderName, m.Text)
	}
}

func (s *session) run(ctx context.Context, roomID string, in io.Reader) error {
	s.presence.SetIdentity(s.id)
	if err := s.presence.Join(ctx, roomID); err != nil {
		return err
	}
	s.printf("Joined room %s as %s (%s). /help lists commands.\n", roomID, s.id.Name, s.id.Color)

	if f, ok, err := newAPIClient().roomFile(ctx, roomID); err != nil {
		logx.Warn("Room file lookup failed", "room_id", roomID, "error", err.Error())
	} else if ok {
		s.printf("* file: %s (%s)\n", f.Filename, newAPIClient().absolute(f.FileURL))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	last := time.Now()

	defer func() {
		s.presence.AnnounceLeave()
		s.presence.Leave()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.follow.Tick(now.Sub(last))
			last = now
			s.tracker.Sample(s.camera.Position(), s.camera.Direction())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handleLine(line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the session should end.
func (s *session) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if len(line) > event.MaxChatTextBytes {
			s.printf("* message too long (%d bytes, limit %d)\n", len(line), event.MaxChatTextBytes)
			return false
		}
		s.presence.SendChatMessage(line)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printf("%s\n", joinHelp)
	case "/select":
		n, err := strconv.Atoi(rest)
		if err != nil {
			s.printf("usage: /select <expressId>\n")
			return false
		}
		s.presence.UpdateSelection(&n)
	case "/clear":
		s.presence.UpdateSelection(nil)
	case "/move":
		s.move(rest)
	case "/follow":
		if id, ok := s.follow.FollowByName(rest); ok {
			s.printf("* following %s (%s)\n", rest, id)
		} else {
			s.printf("* nobody called %q is here\n", rest)
		}
	case "/unfollow":
		s.follow.Stop()
	case "/who":
		s.who()
	case "/where":
		s.printf("* position %v direction %v\n", s.camera.Position(), s.camera.Direction())
	case "/name":
		s.rename(rest)
	default:
		s.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *session) move(args string) {
	nums, err := parseFloats(strings.Fields(args))
	if err != nil || (len(nums) != 3 && len(nums) != 6) {
		s.printf("usage: /move x y z [dx dy dz]\n")
		return
	}

	// Manual camera input ends following, like a pointer-down on the view.
	s.follow.HandleInput(follow.InputPointerDown)

	s.camera.SetPosition(vec.Vec3{nums[0], nums[1], nums[2]})
	if len(nums) == 6 {
		if dir := (vec.Vec3{nums[3], nums[4], nums[5]}).Normalize(); dir.LenSq() > 0 {
			s.camera.mu.Lock()
			s.camera.dir = dir
			s.camera.mu.Unlock()
		}
	}
}

func (s *session) who() {
	pointers := s.presence.Pointers()
	selections := s.presence.Selections()

	ids := make([]string, 0, len(pointers))
	for id := range pointers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if len(ids) == 0 {
		s.printf("* nobody else is here\n")
	}
	for _, id := range ids {
		p := pointers[id]
		sel := "-"
		if cur, ok := selections[id]; ok && cur.ExpressID != nil {
			sel = strconv.Itoa(*cur.ExpressID)
		}
		s.printf("* %s %s at %v looking %v, selected %s\n", p.Label, p.Color, p.Position, p.Direction, sel)
	}
}

func (s *session) rename(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.printf("usage: /name <new name>\n")
		return
	}

	updated, err := identityStore().Update(identity.Patch{Name: &name})
	if err != nil {
		logx.Warn("Identity not persisted", "error", err.Error())
	}
	if updated == nil {
		cp := *s.id
		cp.Name = name
		updated = &cp
	}
	s.id = updated
	s.presence.SetIdentity(updated)
	s.printf("* you are now %s\n", name)
}
