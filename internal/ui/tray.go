package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/service"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 2 * time.Second

type Tray struct {
	svc    *service.Service
	runner *service.Runner
	logger *slog.Logger

	statusItem   *systray.MenuItem
	projectsItem *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu   sync.Mutex
	done chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Service *service.Service
	Runner  *service.Runner
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		svc:    cfg.Service,
		runner: cfg.Runner,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
		done:   make(chan struct{}),
	}
}

// Run blocks until the tray exits and must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("ReelSync")
	systray.SetTooltip("ReelSync Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current sync status")
	t.statusItem.Disable()

	t.projectsItem = systray.AddMenuItem(projectsLine(0, 0), "Projects on this device")
	t.projectsItem.Disable()

	systray.AddSeparator()

	syncItem := systray.AddMenuItem("Sync Now", "Sync every project")
	t.pauseItem = systray.AddMenuItem("Pause", "Pause background sync")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit ReelSync Agent")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-syncItem.ClickedCh:
				t.runner.SyncNow()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.done)
	t.logger.Info("system tray exiting")
}

// refreshLoop redraws on every project change and on a ticker, which covers
// runner state that projects do not signal.
func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	w := newProjectWatcher()
	defer w.close()

	for {
		w.sync(t.svc.ListProjects())
		t.refresh()
		select {
		case <-t.done:
			return
		case <-ticker.C:
		case <-w.changed:
		}
	}
}

func (t *Tray) refresh() {
	projects := t.svc.ListProjects()
	syncing := 0
	for _, p := range projects {
		if p.Progress().State().Active() {
			syncing++
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(statusLine(t.runner.IsPaused(), syncing, t.runner.LastError()))
	t.projectsItem.SetTitle(projectsLine(len(projects), t.svc.UnseenTotal()))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.statusItem.SetTitle(statusLine(t.runner.IsPaused(), 0, ""))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusLine(paused bool, syncing int, lastErr string) string {
	switch {
	case paused:
		return "Status: Paused"
	case syncing == 1:
		return "Status: Syncing 1 project"
	case syncing > 1:
		return fmt.Sprintf("Status: Syncing %d projects", syncing)
	case lastErr != "":
		return "Status: Last sync failed"
	default:
		return "Status: Idle"
	}
}

func projectsLine(projects, unseen int) string {
	if unseen == 0 {
		return fmt.Sprintf("Projects: %d", projects)
	}
	return fmt.Sprintf("Projects: %d (%d new clips)", projects, unseen)
}

// projectWatcher fans the change channels of a changing set of projects into
// one coalescing channel.
type projectWatcher struct {
	changed chan struct{}
	subs    map[*project.Project]<-chan struct{}
}

func newProjectWatcher() *projectWatcher {
	return &projectWatcher{
		changed: make(chan struct{}, 1),
		subs:    make(map[*project.Project]<-chan struct{}),
	}
}

// sync subscribes to new projects and unsubscribes from ones no longer listed.
func (w *projectWatcher) sync(projects []*project.Project) {
	current := make(map[*project.Project]struct{}, len(projects))
	for _, p := range projects {
		current[p] = struct{}{}
		if _, ok := w.subs[p]; ok {
			continue
		}
		ch := p.Subscribe()
		w.subs[p] = ch
		go w.forward(ch)
	}
	for p, ch := range w.subs {
		if _, ok := current[p]; !ok {
			p.Unsubscribe(ch)
			delete(w.subs, p)
		}
	}
}

func (w *projectWatcher) forward(ch <-chan struct{}) {
	for range ch {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}

func (w *projectWatcher) close() {
	for p, ch := range w.subs {
		p.Unsubscribe(ch)
	}
	w.subs = nil
}
