package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabdraft-server/internal/channel"
	"collabdraft-server/internal/domain"
	"collabdraft-server/internal/ot"
)

// Observer is the seam toward application code: one notification per channel
// event kind, carrying the document id and the relevant payload.
type Observer interface {
	DocumentUpdated(documentID, content string, version int64)
	CursorUpdated(documentID, participantID string, position int)
	SelectionUpdated(documentID, participantID string, selection *domain.Selection)
	LockUpdated(documentID string, locks []*domain.DocumentLock)
	CommentUpdated(documentID string, comment *domain.CollaborativeComment)
	ParticipantsUpdated(documentID string, participants []*domain.Participant)
}

// participant colors are assigned round-robin at join and stay stable for
// the life of the session.
var participantPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324",
}

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.CollaborativeSession
}

// SessionService owns the registry of live sessions and coordinates every
// other component: conflict detection and resolution, locks, the persistence
// buffer, comments and the channel. One session per document; the session is
// the unit of isolation and its mutex serializes the local-edit and
// remote-ingest paths.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	broadcaster Broadcaster
	conflicts   *ConflictService
	locks       *LockService
	persist     *PersistService
	comments    *CommentService

	observersMu sync.RWMutex
	observers   []Observer
}

func NewSessionService(broadcaster Broadcaster, conflicts *ConflictService, locks *LockService, persist *PersistService, comments *CommentService) *SessionService {
	return &SessionService{
		sessions:    make(map[string]*sessionEntry),
		broadcaster: broadcaster,
		conflicts:   conflicts,
		locks:       locks,
		persist:     persist,
		comments:    comments,
	}
}

func (s *SessionService) AddObserver(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// Join creates the session for a document on first join and is idempotent
// for re-joins. The first joiner seeds the document content; later joiners
// inherit the session's current content.
func (s *SessionService) Join(participantID string, req *domain.JoinRequest) (*domain.SessionSnapshot, error) {
	var entry *sessionEntry
	for {
		entry = s.getOrCreate(req.DocumentID, req.DocumentKind)
		entry.mu.Lock()
		if entry.session.State == domain.SessionActive {
			break
		}
		// Raced the last participant's teardown: the entry is closing and
		// about to be destroyed. Drop it and start a fresh session.
		entry.mu.Unlock()
		s.evict(req.DocumentID, entry)
	}
	session := entry.session
	now := time.Now()

	if p := session.Participant(participantID); p != nil {
		p.Status = domain.StatusActive
		p.LastActive = now
	} else {
		session.Participants = append(session.Participants, &domain.Participant{
			ID:         participantID,
			Name:       req.Name,
			Email:      req.Email,
			Color:      participantPalette[len(session.Participants)%len(participantPalette)],
			Status:     domain.StatusActive,
			LastActive: now,
			CanEdit:    true,
			CanComment: true,
			CanDelete:  true,
		})
	}

	if _, ok := session.EditorStates[participantID]; !ok {
		content := s.currentContentLocked(session)
		if len(session.EditorStates) == 0 {
			content = req.Content
		}
		session.EditorStates[participantID] = &domain.EditorState{
			Content:     content,
			LastSavedAt: now,
		}
	}
	session.UpdatedAt = now

	snapshot := s.snapshotLocked(session, participantID)
	roster := rosterCopy(session)
	entry.mu.Unlock()

	s.broadcastPresence(req.DocumentID, roster)
	s.notifyParticipants(req.DocumentID, roster)

	log.Printf("participant %s joined document %s (%d participants)", participantID, req.DocumentID, len(roster))
	return snapshot, nil
}

// Leave removes a participant: their locks are released, their pending
// manual conflicts discarded, and when the last participant leaves the
// session flushes its buffer and is destroyed. A later join re-creates a
// fresh session; persisted history is the durable source of truth.
func (s *SessionService) Leave(ctx context.Context, documentID, participantID string) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session

	for i, p := range session.Participants {
		if p.ID == participantID {
			session.Participants = append(session.Participants[:i], session.Participants[i+1:]...)
			break
		}
	}
	delete(session.EditorStates, participantID)

	released := s.locks.ReleaseAllFor(session, participantID)
	session.UpdatedAt = time.Now()

	last := len(session.Participants) == 0
	if last {
		session.State = domain.SessionClosing
	}
	roster := rosterCopy(session)
	entry.mu.Unlock()

	s.conflicts.DiscardForParticipant(documentID, participantID)
	for _, lock := range released {
		s.broadcastLock(documentID, channel.LockRelease, nil, lock.ID)
	}

	if last {
		// Forced synchronous flush before teardown; a failed flush keeps
		// the buffer alive for the background ticker.
		if err := s.persist.Flush(ctx, documentID); err != nil {
			log.Printf("teardown flush for %s failed: %v", documentID, err)
		}
		s.comments.Drop(documentID)

		s.mu.Lock()
		entry.mu.Lock()
		entry.session.State = domain.SessionClosed
		entry.mu.Unlock()
		// A joiner that raced the teardown may have replaced the entry with
		// a fresh session; only remove our own.
		if s.sessions[documentID] == entry {
			delete(s.sessions, documentID)
		}
		s.mu.Unlock()

		log.Printf("session for document %s closed", documentID)
		return nil
	}

	s.broadcastPresence(documentID, roster)
	s.notifyParticipants(documentID, roster)
	log.Printf("participant %s left document %s", participantID, documentID)
	return nil
}

// SubmitChange is the local-edit path: conflict check, resolve, apply,
// broadcast, buffer. When the conflict requires manual resolution the
// candidate is queued and returned as pending instead of applied.
func (s *SessionService) SubmitChange(documentID, participantID string, req *domain.SubmitChangeRequest, strategy domain.ResolutionStrategy) (*domain.DocumentChange, *domain.PendingConflict, error) {
	entry, err := s.entry(documentID)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	session := entry.session
	if session.State != domain.SessionActive {
		entry.mu.Unlock()
		return nil, nil, ErrSessionClosing
	}

	author := session.Participant(participantID)
	state, ok := session.EditorStates[participantID]
	if author == nil || !ok {
		entry.mu.Unlock()
		return nil, nil, ErrParticipantStateMissing
	}
	if !author.CanEdit {
		entry.mu.Unlock()
		return nil, nil, ErrPermissionDenied
	}

	change := &domain.DocumentChange{
		ID:              uuid.New().String(),
		DocumentID:      documentID,
		ParticipantID:   participantID,
		ParticipantName: author.Name,
		Kind:            req.Kind,
		Position:        req.Position,
		Content:         req.Content,
		Length:          req.Length,
		Version:         session.Version,
		CreatedAt:       time.Now(),
	}
	if change.Destructive() {
		start, end := change.Span()
		change.PreviousContent = sliceContent(state.Content, start, end)

		if blocking := s.locks.Blocking(session, participantID, start, end); blocking != nil {
			holder := session.Participant(blocking.ParticipantID)
			name := blocking.ParticipantID
			if holder != nil {
				name = holder.Name
			}
			entry.mu.Unlock()
			return nil, nil, &LockHeldError{HolderID: blocking.ParticipantID, HolderName: name}
		}
	}

	conflicting := s.conflicts.Detect(session, change)
	if len(conflicting) == 0 {
		s.applyLocked(session, change, participantID)
		entry.mu.Unlock()
		s.afterApply(documentID, change, participantID)
		return change, nil, nil
	}

	if strategy == "" {
		strategy = domain.ResolutionMerge
	}
	res, err := s.conflicts.Resolve(documentID, change, conflicting, strategy, participantID)
	if err != nil {
		entry.mu.Unlock()
		return nil, nil, err
	}

	if res.Resolved == nil {
		entry.mu.Unlock()
		pending, err := s.conflicts.QueuePending(documentID, change, conflicting, func(resolved *domain.DocumentChange) {
			s.applyResolved(documentID, resolved)
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, pending, nil
	}

	s.applyLocked(session, res.Resolved, participantID)
	entry.mu.Unlock()
	s.afterApply(documentID, res.Resolved, participantID)
	return res.Resolved, nil, nil
}

// IngestChange is the remote path: a change event arriving from the channel
// is transformed against locally-applied history, applied, appended, and the
// session version bumped to at least the incoming version. Self-echoes and
// replays are skipped.
func (s *SessionService) IngestChange(documentID string, change *domain.DocumentChange) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session
	if session.State != domain.SessionActive {
		entry.mu.Unlock()
		return ErrSessionClosing
	}

	for _, ch := range session.History {
		if ch.ID == change.ID {
			entry.mu.Unlock()
			return nil
		}
	}
	if session.Participant(change.ParticipantID) == nil {
		entry.mu.Unlock()
		log.Printf("dropping change %s: unknown participant %s in document %s", change.ID, change.ParticipantID, documentID)
		return ErrParticipantStateMissing
	}

	transformed := ot.Transform(change, session.History)
	s.applyLocked(session, transformed, transformed.ParticipantID)
	entry.mu.Unlock()

	s.afterApply(documentID, transformed, transformed.ParticipantID)
	return nil
}

// applyLocked mutates session state under the entry mutex: every editor
// state is spliced identically, history appended, version bumped, cursors
// and comment anchors shifted. Apply must not suspend mid-mutation.
func (s *SessionService) applyLocked(session *domain.CollaborativeSession, change *domain.DocumentChange, authorID string) {
	for id, state := range session.EditorStates {
		state.Content = ot.Apply(state.Content, change)
		if id == authorID {
			state.Dirty = true
			start, _ := change.Span()
			switch change.Kind {
			case domain.ChangeInsert:
				state.Caret = change.Position + len(change.Content)
			case domain.ChangeDelete:
				state.Caret = start
			case domain.ChangeReplace:
				state.Caret = change.Position + len(change.Content)
			}
		} else {
			state.Caret = ot.ShiftPosition(state.Caret, change)
		}
	}

	for _, p := range session.Participants {
		if p.ID == authorID {
			p.LastActive = change.CreatedAt
			p.Status = domain.StatusActive
			continue
		}
		if p.Cursor != nil {
			shifted := ot.ShiftPosition(*p.Cursor, change)
			p.Cursor = &shifted
		}
		if p.Selection != nil {
			p.Selection.Start = ot.ShiftPosition(p.Selection.Start, change)
			p.Selection.End = ot.ShiftPosition(p.Selection.End, change)
		}
	}

	session.History = append(session.History, change)
	session.Version++
	if change.Version > session.Version {
		session.Version = change.Version
	}
	session.UpdatedAt = time.Now()

	s.comments.Reanchor(session.DocumentID, change)
}

// afterApply does the suspending work outside the session mutex: broadcast,
// buffer for persistence, observer notification.
func (s *SessionService) afterApply(documentID string, change *domain.DocumentChange, authorID string) {
	event, err := channel.NewEvent(channel.EventChange, documentID, &channel.ChangePayload{Change: change})
	if err != nil {
		log.Printf("encode change event failed: %v", err)
	} else if err := s.broadcaster.BroadcastToDocument(documentID, event, authorID); err != nil {
		log.Printf("broadcast change for %s failed: %v", documentID, err)
	}

	s.persist.Buffer(change)

	content, version := s.contentAndVersion(documentID)
	s.observersMu.RLock()
	for _, o := range s.observers {
		o.DocumentUpdated(documentID, content, version)
	}
	s.observersMu.RUnlock()
}

func (s *SessionService) applyResolved(documentID string, resolved *domain.DocumentChange) {
	entry, err := s.entry(documentID)
	if err != nil {
		log.Printf("resolved change %s dropped: %v", resolved.ID, err)
		return
	}
	entry.mu.Lock()
	s.applyLocked(entry.session, resolved, resolved.ParticipantID)
	entry.mu.Unlock()
	s.afterApply(documentID, resolved, resolved.ParticipantID)
}

// ResolvePending settles a queued manual conflict on behalf of a resolver.
func (s *SessionService) ResolvePending(pendingID string, strategy domain.ResolutionStrategy, resolvedBy string) (*domain.ConflictResolution, error) {
	return s.conflicts.ResolvePending(pendingID, strategy, resolvedBy)
}

// UpdateCursor records a participant's caret and broadcasts it.
func (s *SessionService) UpdateCursor(documentID, participantID string, position int) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session
	p := session.Participant(participantID)
	state, ok := session.EditorStates[participantID]
	if p == nil || !ok {
		entry.mu.Unlock()
		return ErrParticipantStateMissing
	}
	pos := position
	if pos > len(state.Content) {
		pos = len(state.Content)
	}
	p.Cursor = &pos
	p.LastActive = time.Now()
	p.Status = domain.StatusActive
	state.Caret = pos
	entry.mu.Unlock()

	event, err := channel.NewEvent(channel.EventCursor, documentID, &channel.CursorPayload{
		ParticipantID: participantID,
		Position:      pos,
	})
	if err != nil {
		return err
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, participantID); err != nil {
		log.Printf("broadcast cursor for %s failed: %v", documentID, err)
	}

	s.observersMu.RLock()
	for _, o := range s.observers {
		o.CursorUpdated(documentID, participantID, pos)
	}
	s.observersMu.RUnlock()
	return nil
}

// UpdateSelection records a participant's selection and broadcasts it.
func (s *SessionService) UpdateSelection(documentID, participantID string, sel *domain.Selection) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session
	p := session.Participant(participantID)
	state, ok := session.EditorStates[participantID]
	if p == nil || !ok {
		entry.mu.Unlock()
		return ErrParticipantStateMissing
	}
	// The session keeps its own copies; the caller's value is broadcast and
	// must not alias state mutated under the mutex.
	p.Selection = &domain.Selection{Start: sel.Start, End: sel.End}
	p.LastActive = time.Now()
	state.Selection = &domain.Selection{Start: sel.Start, End: sel.End}
	entry.mu.Unlock()

	event, err := channel.NewEvent(channel.EventSelection, documentID, &channel.SelectionPayload{
		ParticipantID: participantID,
		Selection:     sel,
	})
	if err != nil {
		return err
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, participantID); err != nil {
		log.Printf("broadcast selection for %s failed: %v", documentID, err)
	}

	s.observersMu.RLock()
	for _, o := range s.observers {
		o.SelectionUpdated(documentID, participantID, sel)
	}
	s.observersMu.RUnlock()
	return nil
}

// AcquireLock grants an exclusive lease or returns nil when another
// participant's live lock blocks the range.
func (s *SessionService) AcquireLock(documentID, participantID string, req *domain.AcquireLockRequest) (*domain.DocumentLock, error) {
	entry, err := s.entry(documentID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	if entry.session.Participant(participantID) == nil {
		entry.mu.Unlock()
		return nil, ErrParticipantStateMissing
	}
	lock := s.locks.Acquire(entry.session, participantID, req)
	if lock != nil {
		// Renewals mutate the lease in place; hand out a copy.
		lock = lock.Clone()
	}
	live := s.locks.Live(entry.session)
	entry.mu.Unlock()

	if lock == nil {
		return nil, nil
	}

	s.broadcastLock(documentID, channel.LockAcquire, lock, "")
	s.notifyLocks(documentID, live)
	return lock, nil
}

// ReleaseLock releases a lease. Double-release and releasing an expired
// lock are no-ops.
func (s *SessionService) ReleaseLock(documentID, lockID string) error {
	entry, err := s.entry(documentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	released := s.locks.Release(entry.session, lockID)
	live := s.locks.Live(entry.session)
	entry.mu.Unlock()

	if released {
		s.broadcastLock(documentID, channel.LockRelease, nil, lockID)
		s.notifyLocks(documentID, live)
	}
	return nil
}

// Snapshot returns the session state as seen by one participant.
func (s *SessionService) Snapshot(documentID, participantID string) (*domain.SessionSnapshot, error) {
	entry, err := s.entry(documentID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.snapshotLocked(entry.session, participantID), nil
}

// Run sweeps expired lock leases on a ticker until ctx is cancelled. Leases
// lapse unconditionally regardless of in-flight edits.
func (s *SessionService) Run(ctx context.Context, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepLocks()
		}
	}
}

func (s *SessionService) sweepLocks() {
	s.mu.RLock()
	entries := make(map[string]*sessionEntry, len(s.sessions))
	for id, e := range s.sessions {
		entries[id] = e
	}
	s.mu.RUnlock()

	for documentID, entry := range entries {
		entry.mu.Lock()
		expired := s.locks.Sweep(entry.session)
		live := s.locks.Live(entry.session)
		entry.mu.Unlock()

		for _, lock := range expired {
			log.Printf("lock %s on document %s expired", lock.ID, documentID)
			s.broadcastLock(documentID, channel.LockRelease, nil, lock.ID)
		}
		if len(expired) > 0 {
			s.notifyLocks(documentID, live)
		}
	}
}

// Shutdown flushes every session's buffer; used during graceful shutdown.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.persist.FlushAll(ctx)
}

// ActiveSessions reports the number of live sessions.
func (s *SessionService) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) getOrCreate(documentID string, kind domain.DocumentKind) *sessionEntry {
	s.mu.RLock()
	entry, ok := s.sessions[documentID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.sessions[documentID]; ok {
		return entry
	}

	now := time.Now()
	entry = &sessionEntry{
		session: &domain.CollaborativeSession{
			DocumentID:   documentID,
			DocumentKind: kind,
			State:        domain.SessionActive,
			EditorStates: make(map[string]*domain.EditorState),
			Locks:        make(map[string]*domain.DocumentLock),
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	s.sessions[documentID] = entry
	log.Printf("session created for document %s (%s)", documentID, kind)
	return entry
}

// evict removes a dying entry from the registry so the next getOrCreate
// builds a fresh session. No-op when the entry was already replaced.
func (s *SessionService) evict(documentID string, entry *sessionEntry) {
	s.mu.Lock()
	if s.sessions[documentID] == entry {
		delete(s.sessions, documentID)
	}
	s.mu.Unlock()
}

func (s *SessionService) entry(documentID string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[documentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

func (s *SessionService) currentContentLocked(session *domain.CollaborativeSession) string {
	for _, state := range session.EditorStates {
		return state.Content
	}
	return ""
}

func (s *SessionService) contentAndVersion(documentID string) (string, int64) {
	entry, err := s.entry(documentID)
	if err != nil {
		return "", 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.currentContentLocked(entry.session), entry.session.Version
}

const snapshotHistoryLimit = 50

func (s *SessionService) snapshotLocked(session *domain.CollaborativeSession, participantID string) *domain.SessionSnapshot {
	content := ""
	if state, ok := session.EditorStates[participantID]; ok {
		content = state.Content
	} else {
		content = s.currentContentLocked(session)
	}

	history := session.History
	if len(history) > snapshotHistoryLimit {
		history = history[len(history)-snapshotHistoryLimit:]
	}
	historyCopy := make([]*domain.DocumentChange, len(history))
	copy(historyCopy, history)

	return &domain.SessionSnapshot{
		DocumentID:   session.DocumentID,
		DocumentKind: session.DocumentKind,
		State:        session.State,
		Participants: rosterCopy(session),
		Content:      content,
		Version:      session.Version,
		Locks:        s.locks.Live(session),
		History:      historyCopy,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}

func (s *SessionService) broadcastPresence(documentID string, roster []*domain.Participant) {
	event, err := channel.NewEvent(channel.EventPresence, documentID, &channel.PresencePayload{Participants: roster})
	if err != nil {
		log.Printf("encode presence event failed: %v", err)
		return
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, ""); err != nil {
		log.Printf("broadcast presence for %s failed: %v", documentID, err)
	}
}

func (s *SessionService) broadcastLock(documentID string, action channel.LockAction, lock *domain.DocumentLock, lockID string) {
	event, err := channel.NewEvent(channel.EventLock, documentID, &channel.LockPayload{
		Action: action,
		Lock:   lock,
		LockID: lockID,
	})
	if err != nil {
		log.Printf("encode lock event failed: %v", err)
		return
	}
	if err := s.broadcaster.BroadcastToDocument(documentID, event, ""); err != nil {
		log.Printf("broadcast lock event for %s failed: %v", documentID, err)
	}
}

func (s *SessionService) notifyLocks(documentID string, locks []*domain.DocumentLock) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, o := range s.observers {
		o.LockUpdated(documentID, locks)
	}
}

func (s *SessionService) notifyParticipants(documentID string, roster []*domain.Participant) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, o := range s.observers {
		o.ParticipantsUpdated(documentID, roster)
	}
}

// rosterCopy deep-copies the roster under the entry mutex; the copies are
// encoded and broadcast after the mutex is released, so they must not share
// state with the live session.
func rosterCopy(session *domain.CollaborativeSession) []*domain.Participant {
	roster := make([]*domain.Participant, len(session.Participants))
	for i, p := range session.Participants {
		roster[i] = p.Clone()
	}
	return roster
}

func sliceContent(content string, start, end int) string {
	if start > len(content) {
		start = len(content)
	}
	if end > len(content) {
		end = len(content)
	}
	if start > end {
		return ""
	}
	return content[start:end]
}
