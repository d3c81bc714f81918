package connector

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/autoreply/internal/models"
)

type state int

const (
	stateConnect state = iota
	stateOpenFolder
	stateSearch
	stateFetch
	stateProcess
	stateCloseFolder
	stateNextFolder
	stateDisconnect
	stateDone
)

var stateNames = [...]string{
	stateConnect:     "connect",
	stateOpenFolder:  "open_folder",
	stateSearch:      "search",
	stateFetch:       "fetch",
	stateProcess:     "process",
	stateCloseFolder: "close_folder",
	stateNextFolder:  "next_folder",
	stateDisconnect:  "disconnect",
	stateDone:        "done",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var fetchSection = &imap.FetchItemBodySection{Peek: true}

// traversal is the per-account state machine. Each step performs one
// protocol phase and returns the next state.
type traversal struct {
	f       *IMAPFetcher
	ctx     context.Context
	account models.EmailAccount
	handler Handler

	client imapClient
	dead   bool
	closed bool
	err    error

	folder int
	uids   []imap.UID
	bufs   []*imapclient.FetchMessageBuffer
	report Report
	trace  []state
}

func (t *traversal) run() (Report, error) {
	for st := stateConnect; st != stateDone; {
		t.trace = append(t.trace, st)
		st = t.step(st)
	}
	return t.report, t.err
}

func (t *traversal) step(st state) state {
	switch st {
	case stateConnect:
		return t.connect()
	case stateOpenFolder:
		return t.openFolder()
	case stateSearch:
		return t.search()
	case stateFetch:
		return t.fetch()
	case stateProcess:
		return t.process()
	case stateCloseFolder:
		return t.closeFolder()
	case stateNextFolder:
		return t.nextFolder()
	case stateDisconnect:
		return t.disconnect()
	default:
		return stateDone
	}
}

func (t *traversal) mailbox() string {
	return t.f.folders[t.folder]
}

func (t *traversal) endpoint() string {
	port := t.account.IMAPPort
	if port == 0 {
		port = t.f.tlsMode.IMAPPort()
	}
	return fmt.Sprintf("%s:%d", t.account.IMAPHost, port)
}

// wait runs one protocol round trip under the command timeout. A timed-out
// session is closed and treated as lost.
func (t *traversal) wait(op string, fn func() error) error {
	return t.waitWith(t.ctx, op, fn)
}

// waitWith is wait bounded by parent instead of the run context.
func (t *traversal) waitWith(parent context.Context, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(parent, t.f.commandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.dead = true
		t.closeConn()
		if err := parent.Err(); err != nil {
			return fmt.Errorf("imap %s: %w", op, err)
		}
		return fmt.Errorf("imap %s after %s: %w", op, t.f.commandTimeout, ErrTimeout)
	}
}

func (t *traversal) connect() state {
	client, err := t.f.newClient(t.ctx, t.account)
	if err != nil {
		t.err = fmt.Errorf("imap connect %s: %w", t.endpoint(), err)
		return stateDone
	}
	t.client = client

	if err := t.wait("login", func() error {
		return client.Login(t.account.Email, t.account.Password).Wait()
	}); err != nil {
		t.err = fmt.Errorf("imap auth %s: %w", t.endpoint(), err)
		return stateDisconnect
	}
	t.f.events.Info(t.account.Email, "connected to IMAP server %s", t.endpoint())
	return stateOpenFolder
}

func (t *traversal) openFolder() state {
	name := t.mailbox()
	if err := t.wait("select", func() error {
		_, err := t.client.Select(name, nil).Wait()
		return err
	}); err != nil {
		t.report.FoldersFailed++
		t.f.events.Warn(t.account.Email, "cannot open folder %s: %v", name, err)
		return stateNextFolder
	}
	t.report.FoldersVisited++
	t.f.events.Info(t.account.Email, "opened folder %s", name)
	return stateSearch
}

func (t *traversal) search() state {
	name := t.mailbox()
	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	var data *imap.SearchData
	if err := t.wait("search", func() error {
		var err error
		data, err = t.client.UIDSearch(criteria, nil).Wait()
		return err
	}); err != nil {
		t.report.FoldersFailed++
		t.f.events.Error(t.account.Email, "search for unseen messages in %s failed: %v", name, err)
		return stateCloseFolder
	}
	t.uids = data.AllUIDs()
	if len(t.uids) == 0 {
		t.f.events.Info(t.account.Email, "no unseen messages in %s", name)
		return stateCloseFolder
	}
	t.f.events.Info(t.account.Email, "found %d unseen message(s) in %s", len(t.uids), name)
	return stateFetch
}

func (t *traversal) fetch() state {
	name := t.mailbox()
	opts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{fetchSection},
	}
	uidSet := imap.UIDSetNum(t.uids...)
	var bufs []*imapclient.FetchMessageBuffer
	if err := t.wait("fetch", func() error {
		var err error
		bufs, err = t.client.Fetch(uidSet, opts).Collect()
		return err
	}); err != nil {
		t.report.FoldersFailed++
		t.f.events.Error(t.account.Email, "fetching %d message(s) from %s failed: %v", len(t.uids), name, err)
		return stateCloseFolder
	}
	sort.SliceStable(bufs, func(i, j int) bool { return bufs[i].SeqNum < bufs[j].SeqNum })
	t.bufs = bufs
	return stateProcess
}

// process runs the per-message workflows and waits for all of them before
// flagging replied messages as seen.
func (t *traversal) process() state {
	name := t.mailbox()
	fetchedAt := t.f.now()

	var (
		mu      sync.Mutex
		replied []imap.UID
	)
	g := new(errgroup.Group)
	g.SetLimit(t.f.workers)
	for _, buf := range t.bufs {
		raw := buf.FindBodySection(fetchSection)
		msg := &FetchedMessage{
			Folder:       name,
			SeqNum:       buf.SeqNum,
			UID:          uint32(buf.UID),
			InternalDate: buf.InternalDate,
			FetchedAt:    fetchedAt,
			Raw:          raw,
		}
		g.Go(func() error {
			outcome := t.handle(msg)
			mu.Lock()
			defer mu.Unlock()
			t.report.add(outcome)
			if outcome == OutcomeReplied {
				replied = append(replied, imap.UID(msg.UID))
			}
			return nil
		})
	}
	_ = g.Wait()
	t.bufs = nil

	sort.Slice(replied, func(i, j int) bool { return replied[i] < replied[j] })
	for _, uid := range replied {
		if t.dead {
			break
		}
		t.markSeen(name, uid)
	}
	t.f.events.Info(t.account.Email, "finished folder %s, replied to %d of %d message(s)", name, len(replied), len(t.uids))
	return stateCloseFolder
}

func (t *traversal) handle(msg *FetchedMessage) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.f.logger.Error("message handler panic",
				zap.String("account", t.account.Email),
				zap.String("message", msg.Ref()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			t.f.events.Error(t.account.Email, "processing message %s panicked: %v", msg.Ref(), r)
			outcome = OutcomeFailed
		}
	}()
	if len(msg.Raw) == 0 {
		t.f.events.Error(t.account.Email, "message %s returned no body", msg.Ref())
		return OutcomeFailed
	}
	return t.handler.Handle(t.ctx, t.account, msg)
}

func (t *traversal) markSeen(folder string, uid imap.UID) {
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	// Replies already went out; a cancelled run must still flag them.
	if err := t.waitWith(context.WithoutCancel(t.ctx), "store", func() error {
		return t.client.Store(imap.UIDSetNum(uid), store, nil).Close()
	}); err != nil {
		t.f.events.Warn(t.account.Email, "failed to mark message %s/%d as read: %v", folder, uid, err)
	}
}

func (t *traversal) closeFolder() state {
	if t.dead {
		return stateNextFolder
	}
	name := t.mailbox()
	if err := t.wait("unselect", func() error {
		return t.client.Unselect().Wait()
	}); err != nil {
		t.f.events.Warn(t.account.Email, "failed to close folder %s: %v", name, err)
	}
	return stateNextFolder
}

func (t *traversal) nextFolder() state {
	t.uids = nil
	if t.dead {
		if t.err == nil {
			t.err = fmt.Errorf("%s after folder %s: %w", t.account.Email, t.mailbox(), ErrConnectionLost)
		}
		return stateDisconnect
	}
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return stateDisconnect
	}
	t.folder++
	if t.folder < len(t.f.folders) {
		return stateOpenFolder
	}
	return stateDisconnect
}

func (t *traversal) disconnect() state {
	if !t.dead {
		if err := t.wait("logout", func() error {
			return t.client.Logout().Wait()
		}); err != nil {
			t.f.logger.Debug("imap logout failed", zap.String("account", t.account.Email), zap.Error(err))
		}
	}
	t.closeConn()
	if t.err == nil {
		t.f.events.Info(t.account.Email, "finished processing %d message(s), replied to %d, disconnected", t.report.Messages, t.report.Replied)
	}
	return stateDone
}

func (t *traversal) closeConn() {
	if t.client == nil || t.closed {
		return
	}
	t.closed = true
	if err := t.client.Close(); err != nil {
		t.f.logger.Debug("imap close failed", zap.String("account", t.account.Email), zap.Error(err))
	}
}
