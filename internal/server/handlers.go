package server

import (
	"fmt"
	"strings"

	"freshd/internal/identity"
	"freshd/internal/protocol"
)

// dispatchContext bundles the one room/user pair a command handler
// acts on with the Dispatcher's shared indexes, mirroring the original
// design's per-tick borrow context without needing Go equivalents of
// Rust's borrow checker games.
type dispatchContext struct {
	d   *Dispatcher
	rid uint64
	uid uint64
}

func (c *dispatchContext) user() (*User, bool) { u, ok := c.d.users[c.uid]; return u, ok }
func (c *dispatchContext) room() (*Room, bool) { r, ok := c.d.rooms[c.rid]; return r, ok }
func (c *dispatchContext) userByID(id uint64) (*User, bool) { u, ok := c.d.users[id]; return u, ok }
func (c *dispatchContext) roomByID(id uint64) (*Room, bool) { r, ok := c.d.rooms[id]; return r, ok }

func serverToUser(uid uint64, msg protocol.Sndr) protocol.Envelope {
	return protocol.NewEnvelope(protocol.ServerEnd(), protocol.UserEnd(uid), msg)
}

func serverToRoom(rid uint64, msg protocol.Sndr) protocol.Envelope {
	return protocol.NewEnvelope(protocol.ServerEnd(), protocol.RoomEnd(rid), msg)
}

// dispatchMessage routes a decoded Rcvr to its handler, returning 0, 1,
// or 2 resulting envelopes.
func dispatchMessage(ctxt *dispatchContext, msg protocol.Rcvr) []protocol.Envelope {
	switch msg.Kind {
	case protocol.RcvText:
		return handleText(ctxt, msg.Lines)
	case protocol.RcvPriv:
		return handlePriv(ctxt, msg.Who, msg.Text)
	case protocol.RcvName:
		return handleName(ctxt, msg.Str)
	case protocol.RcvJoin:
		return handleJoin(ctxt, msg.Str)
	case protocol.RcvBlock:
		return handleBlock(ctxt, msg.Str)
	case protocol.RcvUnblock:
		return handleUnblock(ctxt, msg.Str)
	case protocol.RcvLogout:
		return handleLogout(ctxt, msg.Str)
	case protocol.RcvQuery:
		return handleQuery(ctxt, msg.QueryWhat, msg.QueryArg)
	case protocol.RcvOpMsg:
		return handleOp(ctxt, msg.Op)
	default:
		return nil
	}
}

func handleText(ctxt *dispatchContext, lines []string) []protocol.Envelope {
	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	env := protocol.NewEnvelope(
		protocol.UserEnd(ctxt.uid), protocol.RoomEnd(ctxt.rid),
		protocol.NewText(u.Name(), lines),
	)
	return []protocol.Envelope{env}
}

func handlePriv(ctxt *dispatchContext, who, text string) []protocol.Envelope {
	u, ok := ctxt.user()
	if !ok {
		return nil
	}

	toTok := identity.Collapse(who)
	if toTok == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewErr("The recipient name must have at least one non-whitespace character."))}
	}

	tgtUID, found := ctxt.d.ustr[toTok]
	if !found {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewErr(fmt.Sprintf("There is no user whose name matches %q.", toTok)))}
	}
	tgtU, ok := ctxt.userByID(tgtUID)
	if !ok {
		return nil
	}

	echo := serverToUser(ctxt.uid, protocol.NewMisc("priv_echo", []string{tgtU.Name(), text},
		fmt.Sprintf("$ You @ %s: %s", tgtU.Name(), text)))
	to := protocol.NewEnvelope(protocol.UserEnd(ctxt.uid), protocol.UserEnd(tgtUID),
		protocol.NewPriv(u.Name(), text))
	return []protocol.Envelope{echo, to}
}

func handleName(ctxt *dispatchContext, candidate string) []protocol.Envelope {
	newStr := identity.Collapse(candidate)
	if newStr == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("Your name must have more whitespace characters."))}
	}
	if len(candidate) > ctxt.d.cfg.MaxUserNameLength {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewErr(fmt.Sprintf("Your name cannot be longer than %d characters.", ctxt.d.cfg.MaxUserNameLength)))}
	}

	if ouid, exists := ctxt.d.ustr[newStr]; exists && ouid != ctxt.uid {
		ou, ok := ctxt.userByID(ouid)
		if ok {
			return []protocol.Envelope{serverToUser(ctxt.uid,
				protocol.NewErr(fmt.Sprintf("There is already a user named %q.", ou.Name())))}
		}
	}

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	oldName := u.Name()
	oldIDStr := u.IDStr()
	u.SetName(candidate)
	newIDStr := u.IDStr()

	delete(ctxt.d.ustr, oldIDStr)
	ctxt.d.ustr[newIDStr] = ctxt.uid

	env := serverToRoom(ctxt.rid, protocol.NewMisc("name", []string{oldName, candidate},
		fmt.Sprintf("%s is now known as %s.", oldName, candidate)))
	return []protocol.Envelope{env}
}

func handleJoin(ctxt *dispatchContext, roomName string) []protocol.Envelope {
	collapsed := identity.Collapse(roomName)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("A room name must have more non-whitespace characters."))}
	}
	if len(roomName) > ctxt.d.cfg.MaxRoomNameLength {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewErr(fmt.Sprintf("Room names cannot be longer than %d characters.", ctxt.d.cfg.MaxRoomNameLength)))}
	}

	tgtRID, exists := ctxt.d.rstr[collapsed]
	if !exists {
		newID := firstFreeID(ctxt.d.rooms)
		newRoom := NewRoom(newID, roomName, ctxt.uid)
		ctxt.d.rstr[collapsed] = newID
		ctxt.d.rooms[newID] = newRoom
		if u, ok := ctxt.user(); ok {
			u.DeliverMsg(protocol.NewInfo(fmt.Sprintf("You create room %q.", roomName)))
		}
		tgtRID = newID
	}

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	uname := u.Name()

	targR, ok := ctxt.roomByID(tgtRID)
	if !ok {
		return nil
	}

	switch {
	case tgtRID == ctxt.rid:
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("You are already in %q.", targR.Name())))}
	case targR.IsBanned(ctxt.uid):
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("You are banned from %q.", targR.Name())))}
	case targR.Closed && !targR.IsInvited(ctxt.uid):
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("%q is closed.", targR.Name())))}
	}

	targR.Join(ctxt.uid)
	joinEnv := serverToRoom(tgtRID, protocol.NewMisc("join", []string{uname, targR.Name()},
		fmt.Sprintf("%s joins %s.", uname, targR.Name())))
	targR.Enqueue(joinEnv)

	curR, ok := ctxt.room()
	if !ok {
		return nil
	}
	leaveEnv := serverToRoom(tgtRID, protocol.NewMisc("leave", []string{uname, "[ moved to another room ]"},
		fmt.Sprintf("%s moved to another room.", uname)))
	curR.Leave(ctxt.uid)
	return []protocol.Envelope{leaveEnv}
}

func handleBlock(ctxt *dispatchContext, userName string) []protocol.Envelope {
	collapsed := identity.Collapse(userName)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("That cannot be anyone's user name."))}
	}
	ouid, exists := ctxt.d.ustr[collapsed]
	if !exists {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
	}
	if ouid == ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("You shouldn't block yourself."))}
	}
	blockedU, ok := ctxt.userByID(ouid)
	if !ok {
		return nil
	}
	blockedName := blockedU.Name()

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	if u.BlockID(ouid) {
		u.DeliverMsg(protocol.NewInfo(fmt.Sprintf("You are now blocking %s.", blockedName)))
	} else {
		u.DeliverMsg(protocol.NewErr(fmt.Sprintf("You are already blocking %s.", blockedName)))
	}
	return nil
}

func handleUnblock(ctxt *dispatchContext, userName string) []protocol.Envelope {
	collapsed := identity.Collapse(userName)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("That cannot be anyone's user name."))}
	}
	ouid, exists := ctxt.d.ustr[collapsed]
	if !exists {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
	}
	if ouid == ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("You couldn't block yourself; you can't unblock yourself."))}
	}
	blockedU, ok := ctxt.userByID(ouid)
	if !ok {
		return nil
	}
	blockedName := blockedU.Name()

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	if u.UnblockID(ouid) {
		u.DeliverMsg(protocol.NewInfo(fmt.Sprintf("You unblock %s.", blockedName)))
	} else {
		u.DeliverMsg(protocol.NewErr(fmt.Sprintf("You were not blocking %s.", blockedName)))
	}
	return nil
}

func handleLogout(ctxt *dispatchContext, salutation string) []protocol.Envelope {
	room, ok := ctxt.room()
	if !ok {
		return nil
	}
	room.Leave(ctxt.uid)

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	delete(ctxt.d.users, ctxt.uid)
	delete(ctxt.d.ustr, u.IDStr())
	u.Logout("You have logged out.")

	env := serverToRoom(ctxt.rid, protocol.NewMisc("leave", []string{u.Name(), salutation},
		fmt.Sprintf("%s leaves: %s", u.Name(), salutation)))
	room.Enqueue(env)
	return nil
}

func handleQuery(ctxt *dispatchContext, what, arg string) []protocol.Envelope {
	switch what {
	case "addr":
		u, ok := ctxt.user()
		if !ok {
			return nil
		}
		addrStr, altStr := "???", "Your public address cannot be determined."
		if a, ok := u.Addr(); ok {
			addrStr = a
			altStr = fmt.Sprintf("Your public address is %s.", a)
		}
		u.DeliverMsg(protocol.NewMisc("addr", []string{addrStr}, altStr))
		return nil

	case "roster":
		r, ok := ctxt.room()
		if !ok {
			return nil
		}
		opID := r.Op()
		var others []string
		for _, uid := range r.Users() {
			if uid == opID {
				continue
			}
			if u, ok := ctxt.userByID(uid); ok {
				others = append(others, u.Name())
			}
		}

		var altStr string
		var names []string
		if opID == 0 {
			altStr = fmt.Sprintf("%s roster: %s", r.Name(), strings.Join(others, ", "))
			names = others
		} else {
			opName := "[ ??? ]"
			if u, ok := ctxt.userByID(opID); ok {
				opName = u.Name()
			}
			altStr = fmt.Sprintf("%s roster: %s (operator) %s", r.Name(), opName, strings.Join(others, ", "))
			names = append([]string{opName}, others...)
		}
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewMisc("roster", names, altStr))}

	case "who":
		collapsed := identity.Collapse(arg)
		matches := matchPrefix(collapsed, ctxt.d.ustr)
		if len(matches) == 0 {
			return []protocol.Envelope{serverToUser(ctxt.uid,
				protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
		}
		altStr := "Matching names: " + strings.Join(matches, ", ")
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewMisc("who", matches, altStr))}

	case "rooms":
		collapsed := identity.Collapse(arg)
		matches := matchPrefix(collapsed, ctxt.d.rstr)
		if len(matches) == 0 {
			return []protocol.Envelope{serverToUser(ctxt.uid,
				protocol.NewInfo(fmt.Sprintf("No Rooms matching the pattern %q.", collapsed)))}
		}
		altStr := "Matching Rooms: " + strings.Join(matches, ", ")
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewMisc("rooms", matches, altStr))}

	default:
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr(fmt.Sprintf("Unknown \"Query\" type: %q.", what)))}
	}
}

func handleOp(ctxt *dispatchContext, op protocol.RcvOp) []protocol.Envelope {
	room, ok := ctxt.room()
	if !ok {
		return nil
	}
	if room.Op() != ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("You are not the operator of this Room."))}
	}

	u, ok := ctxt.user()
	if !ok {
		return nil
	}
	opName := u.Name()

	switch op.Kind {
	case protocol.OpOpen:
		if room.Closed {
			room.Closed = false
			return []protocol.Envelope{serverToRoom(ctxt.rid,
				protocol.NewInfo(fmt.Sprintf("%s has opened %s.", opName, room.Name())))}
		}
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("%s is already open.", room.Name())))}

	case protocol.OpClose:
		if room.Closed {
			return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("%s is already closed.", room.Name())))}
		}
		room.Closed = true
		return []protocol.Envelope{serverToRoom(ctxt.rid,
			protocol.NewInfo(fmt.Sprintf("%s has closed %s.", opName, room.Name())))}

	case protocol.OpGive:
		return handleOpGive(ctxt, room, op.Name)

	case protocol.OpInvite:
		return handleOpInvite(ctxt, room, op.Name)

	case protocol.OpKick:
		return handleOpKick(ctxt, room, op.Name)

	default:
		return nil
	}
}

func handleOpGive(ctxt *dispatchContext, room *Room, newName string) []protocol.Envelope {
	collapsed := identity.Collapse(newName)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewErr("That cannot be anyone's user name."))}
	}
	ouid, exists := ctxt.d.ustr[collapsed]
	if !exists {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
	}
	if ouid == ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo("You are already the operator of this room."))}
	}
	ou, ok := ctxt.userByID(ouid)
	if !ok {
		return nil
	}
	if !containsID(room.Users(), ouid) {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("%s must be in the room to transfer ownership.", ou.Name())))}
	}
	room.SetOp(ouid)
	return []protocol.Envelope{serverToRoom(ctxt.rid, protocol.NewMisc("new_op", []string{ou.Name(), room.Name()},
		fmt.Sprintf("%s is now the operator of %s.", ou.Name(), room.Name())))}
}

func handleOpInvite(ctxt *dispatchContext, room *Room, uname string) []protocol.Envelope {
	collapsed := identity.Collapse(uname)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo("That cannot be anyone's user name."))}
	}
	ouid, exists := ctxt.d.ustr[collapsed]
	if !exists {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
	}
	if ouid == ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo(fmt.Sprintf("You are already allowed in %s.", room.Name())))}
	}
	ou, ok := ctxt.userByID(ouid)
	if !ok {
		return nil
	}
	if room.IsInvited(ouid) {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("%s has already been invited to %s.", ou.Name(), room.Name())))}
	}
	room.Invite(ouid)

	if containsID(room.Users(), ouid) {
		ou.DeliverMsg(protocol.NewInfo(fmt.Sprintf("You have been invited to return to %s even if it closes.", room.Name())))
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("%s may now return to %s even when closed.", ou.Name(), room.Name())))}
	}
	ou.DeliverMsg(protocol.NewInfo(fmt.Sprintf("You have been invited to join %s.", room.Name())))
	return []protocol.Envelope{serverToUser(ctxt.uid,
		protocol.NewInfo(fmt.Sprintf("You invite %s to join %s.", ou.Name(), room.Name())))}
}

func handleOpKick(ctxt *dispatchContext, room *Room, uname string) []protocol.Envelope {
	collapsed := identity.Collapse(uname)
	if collapsed == "" {
		return []protocol.Envelope{serverToUser(ctxt.uid, protocol.NewInfo("That cannot be anyone's user name."))}
	}
	ouid, exists := ctxt.d.ustr[collapsed]
	if !exists {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("No users matching the pattern %q.", collapsed)))}
	}
	if ouid == ctxt.uid {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo("Bestowing the operator mantle on another and then leaving would be a more orderly transfer of power."))}
	}
	ku, ok := ctxt.userByID(ouid)
	if !ok {
		return nil
	}

	if room.IsBanned(ouid) {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("%s is already banned from %s.", ku.Name(), room.Name())))}
	}
	room.Ban(ouid)
	inRoom := containsID(room.Users(), ouid)
	if !inRoom {
		return []protocol.Envelope{serverToUser(ctxt.uid,
			protocol.NewInfo(fmt.Sprintf("You have banned %s from %s.", ku.Name(), room.Name())))}
	}

	curRoomName := room.Name()
	ku.DeliverMsg(protocol.NewMisc("kick_you", []string{curRoomName},
		fmt.Sprintf("You have been kicked from %s.", curRoomName)))
	room.Leave(ouid)

	lobby := ctxt.d.rooms[LobbyID]
	lobby.Join(ouid)
	toLobby := serverToRoom(ctxt.rid, protocol.NewMisc("join", []string{ku.Name(), lobby.Name()},
		fmt.Sprintf("%s joins %s.", ku.Name(), lobby.Name())))
	lobby.Enqueue(toLobby)

	kickOther := serverToRoom(ctxt.rid, protocol.NewMisc("kick_other", []string{ku.Name(), curRoomName},
		fmt.Sprintf("%s has been kicked from %s.", ku.Name(), curRoomName)))
	return []protocol.Envelope{kickOther}
}

// matchPrefix returns every key of hash starting with s, order
// unspecified beyond map iteration (matching the original, which never
// sorts these either).
func matchPrefix(s string, hash map[string]uint64) []string {
	var out []string
	for k := range hash {
		if strings.HasPrefix(k, s) {
			out = append(out, k)
		}
	}
	return out
}

// firstFreeID returns the smallest non-negative integer not already a
// key of rooms.
func firstFreeID(rooms map[uint64]*Room) uint64 {
	var n uint64
	for {
		if _, ok := rooms[n]; !ok {
			return n
		}
		n++
	}
}
