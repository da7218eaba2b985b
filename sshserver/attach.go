package sshserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

type attachment struct {
	sess    gliderssh.Session
	service core.Service
	events  *eventbus.Fanout
}

type attachTarget struct {
	tabID   schema.TabID
	connect schema.ProfileID
}

// run serves one attach session and returns the exit status.
//
// Commands: none attaches to the active tab, "list" prints the tabs, "new
// [profile-id]" opens a tab (and connects it when a profile is given), and
// anything else is taken as a tab id.
func (a *attachment) run(ctx context.Context, args []string, win gliderssh.Window, winCh <-chan gliderssh.Window) int {
	if len(args) > 0 && args[0] == "list" {
		a.writeTabList()
		return 0
	}
	target, err := a.resolve(ctx, args)
	if err != nil {
		_, _ = io.WriteString(a.sess, schema.FormatDiagnostic("Error: "+err.Error()))
		return 1
	}
	tabID := target.tabID
	log := logx.WithTab(ctx, tabID)

	events, unsubscribe := a.events.Subscribe(tabID)
	defer unsubscribe()

	if tab, ok := a.service.Tab(tabID); ok {
		_, _ = fmt.Fprintf(a.sess, "attached to %s (%s, %s), Ctrl-] detaches\r\n", tab.Title, tabID, tab.State)
	}
	if target.connect != "" {
		if err := a.service.Connect(ctx, tabID, target.connect); err != nil {
			_, _ = io.WriteString(a.sess, schema.FormatDiagnostic("Error: "+err.Error()))
		}
	}
	if win.Width > 0 && win.Height > 0 {
		a.service.Resize(ctx, tabID, win.Width, win.Height)
	}

	input := make(chan []byte)
	detached := make(chan struct{})
	readDone := make(chan struct{})
	go a.readInput(input, detached, readDone)

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-detached:
			_, _ = io.WriteString(a.sess, "\r\ndetached\r\n")
			log.Info("ssh attach detached")
			return 0
		case <-readDone:
			return 0
		case data := <-input:
			a.service.Send(ctx, tabID, data)
		case w, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			a.service.Resize(ctx, tabID, w.Width, w.Height)
		case event, ok := <-events:
			if !ok {
				return 0
			}
			switch event.Type {
			case eventbus.EventData:
				if _, err := a.sess.Write(event.Data); err != nil {
					return 0
				}
			case eventbus.EventDiagnostic:
				if _, err := io.WriteString(a.sess, event.Text); err != nil {
					return 0
				}
			case eventbus.EventTabList:
				if !containsTab(event.Tabs, tabID) {
					_, _ = io.WriteString(a.sess, "\r\ntab closed\r\n")
					log.Info("ssh attach tab closed")
					return 0
				}
			}
		}
	}
}

func (a *attachment) resolve(ctx context.Context, args []string) (attachTarget, error) {
	if len(args) == 0 {
		if active := a.service.ActiveTab(); active != "" {
			return attachTarget{tabID: active}, nil
		}
		return attachTarget{tabID: a.service.EnsureAtLeastOneTab(ctx)}, nil
	}
	if args[0] == "new" {
		if len(args) < 2 {
			return attachTarget{tabID: a.service.AddTab(ctx, nil)}, nil
		}
		profile, err := a.service.GetProfile(ctx, schema.ProfileID(args[1]))
		if err != nil {
			return attachTarget{}, err
		}
		return attachTarget{tabID: a.service.AddTab(ctx, &profile), connect: profile.ID}, nil
	}
	tabID := schema.TabID(strings.TrimSpace(args[0]))
	if _, ok := a.service.Tab(tabID); !ok {
		return attachTarget{}, fmt.Errorf("%w: %s", schema.ErrTabNotFound, tabID)
	}
	return attachTarget{tabID: tabID}, nil
}

// readInput forwards keystrokes until the detach key or EOF. Bytes typed
// before the detach key in the same read are still sent.
func (a *attachment) readInput(input chan<- []byte, detached, done chan<- struct{}) {
	buf := make([]byte, 1024)
	for {
		n, err := a.sess.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			idx := bytes.IndexByte(chunk, detachKey)
			if idx >= 0 {
				chunk = chunk[:idx]
			}
			if len(chunk) > 0 {
				select {
				case input <- append([]byte(nil), chunk...):
				case <-a.sess.Context().Done():
					close(done)
					return
				}
			}
			if idx >= 0 {
				close(detached)
				return
			}
		}
		if err != nil {
			close(done)
			return
		}
	}
}

func (a *attachment) writeTabList() {
	tw := tabwriter.NewWriter(a.sess, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprint(tw, "ID\tTITLE\tSTATE\tPROFILE\t\r\n")
	for _, tab := range a.service.Tabs() {
		marker := ""
		if tab.Active {
			marker = " *"
		}
		_, _ = fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t\r\n", tab.ID, marker, tab.Title, tab.State, tab.ProfileID)
	}
	_ = tw.Flush()
}

func containsTab(tabs []schema.TabSnapshot, tabID schema.TabID) bool {
	for _, tab := range tabs {
		if tab.ID == tabID {
			return true
		}
	}
	return false
}
