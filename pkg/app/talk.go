package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

// Talk runs one conversation in the foreground and prints the transcript
// to w as it is committed. It returns when the session ends on its own,
// fails, or ctx is cancelled, and waits for the record to be saved.
func (a *App) Talk(ctx context.Context, character, topic string, w io.Writer) (conversation.Record, error) {
	w = &lockedWriter{w: w}
	defer a.screen.attach(textScreen{w: w})()

	var (
		mu      sync.Mutex
		printed int
		active  bool
		warned  bool
		failure *conversation.SessionError
		once    sync.Once
		done    = make(chan struct{})
	)
	unsub := a.session.OnState(func(st conversation.State) {
		mu.Lock()
		defer mu.Unlock()

		if st.Session.Active() {
			active = true
		}
		for ; printed < len(st.Transcript); printed++ {
			e := st.Transcript[printed]
			fmt.Fprintf(w, "%s: %s\n", speaker(e.Role, st.Character), e.Text)
		}
		if st.Timer.WarningShown && !warned {
			warned = true
			fmt.Fprintf(w, "[%s left]\n", st.Timer.Remaining.Round(time.Second))
		}
		if !active {
			return
		}
		switch st.Session {
		case conversation.StateError:
			failure = st.Error
			once.Do(func() { close(done) })
		case conversation.StateIdle:
			once.Do(func() { close(done) })
		}
	})
	defer unsub()

	if err := a.session.Start(ctx, character, topic); err != nil {
		return conversation.Record{}, err
	}
	fmt.Fprintf(w, "[talking to %s, press Ctrl+C to finish]\n", character)

	select {
	case <-done:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := a.session.Stop(stopCtx)
	if err != nil {
		a.logger.Warn("stop finished with errors", "error", err)
	}
	a.session.Wait()

	if saved, err := a.store.Session(stopCtx, rec.SessionID); err == nil {
		rec = saved
	}

	mu.Lock()
	defer mu.Unlock()
	if failure != nil {
		return rec, failure
	}
	return rec, nil
}

func speaker(role conversation.Role, character string) string {
	if role == conversation.RoleUser {
		return "You"
	}
	if character == "" {
		return "Assistant"
	}
	return character
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
