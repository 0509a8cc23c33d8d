package room

// Whiteboard handlers. The board is an append-only operation log;
// every connection that misses a live event recovers from board_history
// on join. Mutations by users without draw permission are dropped
// server-side, so a modified client cannot bypass the permission gate.

// Draw appends a stroke segment and relays it to everyone but the
// author, who already rendered it locally.
func (e *Engine) Draw(connID string, p DrawPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	op := DrawOp{
		X:         p.X,
		Y:         p.Y,
		PrevX:     p.PrevX,
		PrevY:     p.PrevY,
		Color:     p.Color,
		LineWidth: p.LineWidth,
	}
	st.Board = append(st.Board, BoardOp{Type: OpDraw, Draw: &op})
	e.pub.Publish(st.connIDsExcept(connID), EventDraw, &op)
}

// AddText appends a text object to the board log.
func (e *Engine) AddText(connID string, p AddTextPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	op := TextOp{
		X:         p.X,
		Y:         p.Y,
		Text:      p.Text,
		Color:     p.Color,
		LineWidth: p.LineWidth,
	}
	st.Board = append(st.Board, BoardOp{Type: OpText, Text: &op})
	e.pub.Publish(st.connIDsExcept(connID), EventAddText, &op)
}

// AddImage appends an image object. The object keeps its client id so
// later move and delete events can address it.
func (e *Engine) AddImage(connID string, p AddImagePayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	img := p.Image
	st.Board = append(st.Board, BoardOp{Type: OpImage, Image: &img})
	e.pub.Publish(st.connIDsExcept(connID), EventAddImageObject, &img)
}

// MoveImage updates an image object's position in place. Moves that
// reference an unknown id are dropped; the object may have been deleted
// while the move was in flight.
func (e *Engine) MoveImage(connID string, p MoveImagePayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	for i := range st.Board {
		op := &st.Board[i]
		if op.Type == OpImage && op.Image != nil && op.Image.ID == p.ID {
			op.Image.X = p.X
			op.Image.Y = p.Y
			e.pub.Publish(st.connIDsExcept(connID), EventMoveImageObject, p)
			return
		}
	}
}

// DeleteImage removes every image op with the given id from the log.
// The deletion goes to everyone, author included, so all clients
// converge even if a local render raced a concurrent move.
func (e *Engine) DeleteImage(connID string, p DeleteImagePayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	kept := st.Board[:0]
	removed := false
	for _, op := range st.Board {
		if op.Type == OpImage && op.Image != nil && op.Image.ID == p.ID {
			removed = true
			continue
		}
		kept = append(kept, op)
	}
	if !removed {
		return
	}
	st.Board = kept
	e.pub.Publish(st.connIDs(), EventDeleteImageObject, p)
}

// ClearBoard wipes the whole log and notifies everyone.
func (e *Engine) ClearBoard(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	// Keep a non-nil slice so a later joiner's catch-up marshals as []
	// rather than null, same as a fresh room.
	st.Board = st.Board[:0]
	e.pub.Publish(st.connIDs(), EventClearBoard, nil)
}

// UndoBoard removes the most recent operation and rebroadcasts the full
// history, since clients cannot locally invert an arbitrary op.
func (e *Engine) UndoBoard(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	author, ok := st.participantByConn(connID)
	if !ok || !st.mayDraw(author.UserID) {
		return
	}

	if len(st.Board) == 0 {
		return
	}
	st.Board = st.Board[:len(st.Board)-1]
	e.pub.Publish(st.connIDs(), EventBoardHistory, st.Board)
}

// GrantPermission lets the host add a user to the drawer set. The full
// permission set is rebroadcast so every client converges on the same
// list rather than applying deltas.
func (e *Engine) GrantPermission(connID string, p PermissionPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) {
		return
	}

	st.AllowedDrawers[p.UserID] = struct{}{}
	e.pub.Publish(st.connIDs(), EventUpdatePermissions, st.drawerList())
}

// RevokePermission removes a user from the drawer set. Revoking a user
// who was never granted is a no-op but still rebroadcasts, keeping the
// host's view and everyone else's identical.
func (e *Engine) RevokePermission(connID string, p PermissionPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) {
		return
	}

	delete(st.AllowedDrawers, p.UserID)
	e.pub.Publish(st.connIDs(), EventUpdatePermissions, st.drawerList())
}
