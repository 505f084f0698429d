package flow

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher invalidates cached flows when files under the flow directory
// change. Changing the default file invalidates every session.
type Watcher struct {
	dir        string
	invalidate func(sessionID string)
	log        *zerolog.Logger
}

func NewWatcher(dir string, invalidate func(sessionID string), logger *zerolog.Logger) *Watcher {
	l := logger.With().Str("component", "FlowWatcher").Logger()
	return &Watcher{dir: dir, invalidate: invalidate, log: &l}
}

func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.dir).Msg("watching flow files")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("flow watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	session, ok := sessionFromPath(ev.Name)
	if !ok {
		return
	}
	if session == DefaultFlowName {
		session = ""
	}
	w.log.Debug().Str("file", ev.Name).Str("session", session).Msg("flow file changed")
	w.invalidate(session)
}
