package room

// WebRTC signaling relay. The server never inspects SDP or ICE blobs;
// it resolves the target user id inside the sender's room and forwards
// the blob with the sender's identity attached. Targets outside the
// sender's room are unreachable by construction, and the "from" field
// always comes from the connection registry, never from the client.

func (e *Engine) RelayOffer(connID string, p OfferPayload) {
	from, target, ok := e.resolvePeer(connID, p.To)
	if !ok {
		return
	}
	e.pub.Publish([]string{target}, EventWebRTCOffer, SignalRelayPayload{
		From:    from,
		Payload: p.Offer,
	})
}

func (e *Engine) RelayAnswer(connID string, p AnswerPayload) {
	from, target, ok := e.resolvePeer(connID, p.To)
	if !ok {
		return
	}
	e.pub.Publish([]string{target}, EventWebRTCAnswer, SignalRelayPayload{
		From:    from,
		Payload: p.Answer,
	})
}

func (e *Engine) RelayIce(connID string, p IcePayload) {
	from, target, ok := e.resolvePeer(connID, p.To)
	if !ok {
		return
	}
	e.pub.Publish([]string{target}, EventWebRTCIce, SignalRelayPayload{
		From:    from,
		Payload: p.Candidate,
	})
}

// resolvePeer maps a target user id to its connection, scoped to the
// sender's own room, and returns the sender's registry-backed user id.
func (e *Engine) resolvePeer(connID, toUserID string) (fromUserID, targetConnID string, ok bool) {
	code, ok := e.roomOf(connID)
	if !ok {
		return "", "", false
	}
	st, ok := e.store.Get(code)
	if !ok {
		return "", "", false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sender, ok := st.participantByConn(connID)
	if !ok {
		return "", "", false
	}
	target, ok := st.participantByUser(toUserID)
	if !ok || target.ConnectionID == connID {
		return "", "", false
	}
	return sender.UserID, target.ConnectionID, true
}
