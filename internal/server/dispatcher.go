package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"freshd/internal/config"
	"freshd/internal/identity"
	"freshd/internal/protocol"
)

// Dispatcher owns every room, every user, and both id/name indexes. It
// is single-threaded and cooperative: the only suspension points in its
// loop are the tick sleep and a non-blocking poll of the accept
// channel. Nothing outside this type ever mutates a room or user.
type Dispatcher struct {
	cfg    config.Server
	log    *zap.Logger
	accept <-chan *User

	users map[uint64]*User
	ustr  map[string]uint64
	rooms map[uint64]*Room
	rstr  map[string]uint64
}

// NewDispatcher constructs a Dispatcher with the permanent lobby room
// already installed at id 0.
func NewDispatcher(cfg config.Server, log *zap.Logger, accept <-chan *User) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		log:    log,
		accept: accept,
		users:  make(map[uint64]*User),
		ustr:   make(map[string]uint64),
		rooms:  make(map[uint64]*Room),
		rstr:   make(map[string]uint64),
	}
	lobby := NewRoom(LobbyID, cfg.LobbyName, 0)
	lobby.SetOp(0)
	d.rooms[LobbyID] = lobby
	d.rstr[lobby.IDStr()] = LobbyID
	return d
}

// Run executes the main loop until stop is closed.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		tickStart := time.Now()
		now := tickStart

		roomIDs := make([]uint64, 0, len(d.rooms))
		for rid := range d.rooms {
			roomIDs = append(roomIDs, rid)
		}
		for _, rid := range roomIDs {
			if err := d.processRoom(rid, now); err != nil {
				d.log.Warn("error processing room", zap.Uint64("room_id", rid), zap.Error(err))
			}
		}

		d.reapEmptyRooms()
		d.drainAccept()

		if elapsed := time.Since(tickStart); elapsed < d.cfg.MinTick {
			time.Sleep(d.cfg.MinTick - elapsed)
		}
	}
}

// drainAccept non-blockingly pulls any newly handed-off sessions and
// runs the join-lobby procedure on each.
func (d *Dispatcher) drainAccept() {
	for {
		select {
		case u, ok := <-d.accept:
			if !ok {
				return
			}
			d.joinLobby(u)
		default:
			return
		}
	}
}

// reapEmptyRooms destroys every non-lobby room whose member list is
// empty.
func (d *Dispatcher) reapEmptyRooms() {
	for rid, room := range d.rooms {
		if rid == LobbyID {
			continue
		}
		if len(room.Users()) == 0 {
			delete(d.rooms, rid)
			delete(d.rstr, room.IDStr())
		}
	}
}

type pendingLogout struct {
	uid    uint64
	reason string
}

// processRoom runs one tick's worth of work for a single room: per-
// member quota/liveness bookkeeping, message decode and dispatch,
// forced logouts, operator succession, and the delivery/flush phase.
// Matches process_room in the original dispatcher's design.
func (d *Dispatcher) processRoom(rid uint64, now time.Time) error {
	room, ok := d.rooms[rid]
	if !ok {
		return fmt.Errorf("room %d doesn't exist", rid)
	}
	uidList := append([]uint64(nil), room.Users()...)

	ctxt := &dispatchContext{d: d, rid: rid}
	var tickEnvelopes []protocol.Envelope
	var logouts []pendingLogout

	for _, uid := range uidList {
		user, ok := d.users[uid]
		if !ok {
			d.log.Debug("processRoom: user no longer exists", zap.Uint64("room_id", rid), zap.Uint64("user_id", uid))
			continue
		}

		overQuota := user.ByteQuota() > d.cfg.ByteLimit
		user.DrainByteQuota(d.cfg.BytesPerTick)
		if overQuota && user.ByteQuota() <= d.cfg.ByteLimit {
			user.DeliverMsg(protocol.NewErr("You may send messages again."))
		}

		msg, got := user.TryGet()
		if !got {
			since := now.Sub(user.LastDataTime())
			switch {
			case since > d.cfg.BlackoutToKick:
				logouts = append(logouts, pendingLogout{uid, "Too long since server received data from the client."})
			case since > d.cfg.BlackoutToPing:
				user.DeliverMsg(protocol.NewPing())
			}
			continue
		}

		if overQuota {
			continue
		}
		if user.ByteQuota() > d.cfg.ByteLimit {
			user.DeliverMsg(protocol.NewErr("You have exceeded your data quota and your messages will be ignored for a short time."))
		}

		if user.HasErrors() {
			d.log.Warn("user being logged out for errors", zap.Uint64("user_id", uid), zap.Error(user.Errors()))
			logouts = append(logouts, pendingLogout{uid, "Communication error."})
		}

		ctxt.uid = uid
		envs := dispatchMessage(ctxt, msg)
		tickEnvelopes = append(tickEnvelopes, envs...)
	}

	for _, lo := range logouts {
		user, ok := d.users[lo.uid]
		if !ok {
			d.log.Warn("logout target vanished", zap.Uint64("user_id", lo.uid))
			continue
		}
		delete(d.users, lo.uid)
		delete(d.ustr, user.IDStr())
		user.Logout(lo.reason)
		env := protocol.NewEnvelope(
			protocol.ServerEnd(), protocol.RoomEnd(rid),
			protocol.NewMisc("leave", []string{user.Name(), "[ disconnected by server ]"},
				fmt.Sprintf("%s has been disconnected from the server.", user.Name())),
		)
		tickEnvelopes = append(tickEnvelopes, env)
	}

	if rid != LobbyID {
		if !containsID(room.Users(), room.Op()) {
			if members := room.Users(); len(members) > 0 {
				nextOp := members[0]
				if u, ok := d.users[nextOp]; ok {
					room.SetOp(nextOp)
					env := protocol.NewEnvelope(
						protocol.ServerEnd(), protocol.RoomEnd(rid),
						protocol.NewInfo(fmt.Sprintf("%s is now the Room operator.", u.Name())),
					)
					tickEnvelopes = append(tickEnvelopes, env)
				}
			}
		}
	}

	for _, lo := range logouts {
		room.Leave(lo.uid)
	}
	room.FlushOutbox(d.users)
	for _, env := range tickEnvelopes {
		room.Deliver(env, d.users)
	}

	for _, uid := range room.Users() {
		if u, ok := d.users[uid]; ok {
			u.Send()
		}
	}

	return nil
}

// joinLobby runs the handshake follow-up for a freshly accepted
// session: validate (or replace) its name, then add it to the lobby.
func (d *Dispatcher) joinLobby(u *User) {
	u.DeliverMsg(protocol.NewInfo(d.cfg.Welcome))

	if reason, bad := d.validateName(u.Name(), u.ID()); bad {
		oldName := u.Name()
		newName := d.freeFallbackName(u.ID())
		u.DeliverMsg(protocol.NewErr(reason))
		u.SetName(newName)
		u.DeliverMsg(protocol.NewMisc("name", []string{oldName, newName},
			fmt.Sprintf("%s is now known as %s.", oldName, newName)))
	}

	d.users[u.ID()] = u
	d.ustr[u.IDStr()] = u.ID()

	lobby := d.rooms[LobbyID]
	lobby.Join(u.ID())
	env := protocol.NewEnvelope(
		protocol.ServerEnd(), protocol.RoomEnd(LobbyID),
		protocol.NewMisc("join", []string{u.Name(), lobby.Name()},
			fmt.Sprintf("%s joins %s.", u.Name(), lobby.Name())),
	)
	lobby.Enqueue(env)
}

// validateName reports whether u's current display name is acceptable
// as-is; if not, it returns the rejection reason to show the user
// before a fallback name is assigned.
func (d *Dispatcher) validateName(name string, uid uint64) (reason string, bad bool) {
	collapsed := identity.Collapse(name)
	switch {
	case collapsed == "":
		return "Your name must have more whitespace characters.", true
	case len(name) > d.cfg.MaxUserNameLength:
		return fmt.Sprintf("Your name cannot be longer than %d characters.", d.cfg.MaxUserNameLength), true
	}
	if existing, ok := d.ustr[collapsed]; ok && existing != uid {
		return fmt.Sprintf("Name %q exists.", name), true
	}
	return "", false
}

// freeFallbackName returns "user<N>" starting at N = startID,
// incrementing until the normalized form is unused.
func (d *Dispatcher) freeFallbackName(startID uint64) string {
	n := startID
	for {
		candidate := identity.FallbackName(n)
		if _, taken := d.ustr[identity.Collapse(candidate)]; !taken {
			return candidate
		}
		n++
	}
}
