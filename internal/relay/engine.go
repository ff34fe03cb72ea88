package relay

import (
	"strconv"
	"strings"

	"github.com/relaydaemon/relaycore/internal/wire"
)

// Numeric reply codes used by the engine. Names follow the convention of
// the protocol this subset is drawn from.
const (
	rplWelcome       = "001"
	rplEndOfNames    = "366"
	rplNamReply      = "353"
	rplLuserClient   = "251"
	errNoSuchNick    = "401"
	errNoSuchChannel = "403"
	errCannotSend    = "404"
	errNoRecipient   = "411"
	errNoText        = "412"
	errUnknownCmd    = "421"
	errNoMOTD        = "422"
	errNoNick        = "431"
	errErroneousNick = "432"
	errNickInUse     = "433"
	errNotOnChannel  = "442"
	errNotRegistered = "451"
	errNeedMoreParms = "461"
)

// Outbound is one serialized line addressed to one connection. The engine
// never writes to a transport itself; it only produces these for the
// caller (the server loop) to deliver.
type Outbound struct {
	To   ConnID
	Line string
}

// Engine implements the protocol state machine: command dispatch over a
// Registry. It holds no per-connection I/O state of its own — that lives
// in the Connection values the Registry tracks and in the driver's byte
// accumulator.
type Engine struct {
	registry   *Registry
	serverName string

	// sendLusers gates the supplemented post-welcome 251 reply. Off by
	// default so the seed scenarios' exact transcripts are unaffected.
	sendLusers bool
}

// NewEngine returns an Engine dispatching against registry, identifying
// itself on the wire as serverName.
func NewEngine(registry *Registry, serverName string) *Engine {
	return &Engine{registry: registry, serverName: serverName}
}

// SetSendLusers toggles the optional post-registration connection-count
// reply.
func (e *Engine) SetSendLusers(on bool) {
	e.sendLusers = on
}

// target returns the caller's current display identity, or "*" if none —
// the <target> field of every numeric reply.
func (e *Engine) target(c *Connection) string {
	if c.Registered {
		return c.Identity
	}
	return "*"
}

func (e *Engine) numeric(c *Connection, code string, middle []string, trailer *string) Outbound {
	full := append([]string{e.target(c)}, middle...)
	return Outbound{To: c.ID, Line: wire.Encode(e.serverName, code, full, trailer)}
}

func trail(s string) *string { return &s }

// Dispatch runs one parsed line against the connection's state and
// returns the outbound lines it produces, if any. id must currently be
// attached to the registry; callers that already detached a connection
// must not dispatch further lines for it.
func (e *Engine) Dispatch(id ConnID, line wire.Line) []Outbound {
	c, ok := e.registry.Get(id)
	if !ok {
		return nil
	}

	if !c.Registered && !isKnownCommand(line.Command) {
		// An unrecognized command gets its own, more specific rule: ignored
		// silently pre-registration rather than gated with 451.
		return nil
	}

	if !c.Registered && line.Command != "NICK" && line.Command != "PING" && line.Command != "QUIT" {
		return []Outbound{e.numeric(c, errNotRegistered, nil, trail("You have not registered"))}
	}

	switch line.Command {
	case "NICK":
		return e.handleNick(c, line.Params)
	case "PING":
		return e.handlePing(c, line.Params)
	case "PRIVMSG":
		return e.handlePrivmsg(c, line.Params)
	case "JOIN":
		return e.handleJoin(c, line.Params)
	case "PART":
		return e.handlePart(c, line.Params)
	case "QUIT":
		reason := "Client quit"
		if len(line.Params) > 0 {
			reason = line.Params[0]
		}
		return e.Disconnect(id, reason)
	default:
		return []Outbound{e.numeric(c, errUnknownCmd, []string{line.Command}, trail("Unknown command"))}
	}
}

func isKnownCommand(cmd string) bool {
	switch cmd {
	case "NICK", "PING", "PRIVMSG", "JOIN", "PART", "QUIT":
		return true
	default:
		return false
	}
}

func (e *Engine) handleNick(c *Connection, params []string) []Outbound {
	if len(params) == 0 {
		return []Outbound{e.numeric(c, errNoNick, nil, trail("No nickname given"))}
	}

	nick := params[0]
	if !isValidNick(nick) {
		return []Outbound{e.numeric(c, errErroneousNick, []string{nick}, trail("Erroneous nickname"))}
	}

	wasRegistered := c.Registered
	oldNick := c.Identity

	changed, err := e.registry.SetIdentity(c.ID, nick)
	if err == ErrInUse {
		return []Outbound{e.numeric(c, errNickInUse, []string{nick}, trail("Nickname is already in use"))}
	}
	if !changed {
		return nil
	}

	if !wasRegistered {
		out := []Outbound{
			e.numeric(c, rplWelcome, nil, trail("Welcome")),
			e.numeric(c, errNoMOTD, nil, trail("MOTD File is missing")),
		}
		if e.sendLusers {
			out = append(out, e.numeric(c, rplLuserClient, nil,
				trail(lusersText(e.registry.ConnectionCount()))))
		}
		return out
	}

	line := wire.Encode(oldNick, "NICK", []string{nick}, nil)
	audience := e.registry.Audience(c.ID)
	out := make([]Outbound, 0, len(audience)+1)
	out = append(out, Outbound{To: c.ID, Line: line})
	for _, peer := range audience {
		out = append(out, Outbound{To: peer, Line: line})
	}
	return out
}

func (e *Engine) handlePing(c *Connection, params []string) []Outbound {
	payload := ""
	if len(params) > 0 {
		payload = params[0]
	}
	line := wire.Encode(e.serverName, "PONG", []string{e.serverName}, trail(payload))
	return []Outbound{{To: c.ID, Line: line}}
}

func (e *Engine) handlePrivmsg(c *Connection, params []string) []Outbound {
	if len(params) == 0 || params[0] == "" {
		return []Outbound{e.numeric(c, errNoRecipient, nil, trail("No recipient given (PRIVMSG)"))}
	}
	if len(params) < 2 {
		return []Outbound{e.numeric(c, errNoText, nil, trail("No text to send"))}
	}

	target := params[0]
	text := params[1]

	if strings.HasPrefix(target, "#") {
		canonical := Fold(target)
		if !isValidRoomKey(target) {
			return []Outbound{e.numeric(c, errNoSuchChannel, []string{target}, trail("No such channel"))}
		}
		members, ok := e.registry.RoomMembers(canonical)
		if !ok {
			return []Outbound{e.numeric(c, errNoSuchChannel, []string{target}, trail("No such channel"))}
		}
		isMember := false
		for _, m := range members {
			if m == c.ID {
				isMember = true
				break
			}
		}
		if !isMember {
			return []Outbound{e.numeric(c, errCannotSend, []string{target}, trail("Cannot send to channel"))}
		}

		line := wire.Encode(c.Identity, "PRIVMSG", []string{target}, trail(text))
		out := make([]Outbound, 0, len(members))
		for _, m := range members {
			if m == c.ID {
				continue
			}
			out = append(out, Outbound{To: m, Line: line})
		}
		return out
	}

	if !isValidNick(target) {
		return []Outbound{e.numeric(c, errNoSuchNick, []string{target}, trail("No such nick/channel"))}
	}
	recipient, ok := e.registry.NickToConn(target)
	if !ok {
		return []Outbound{e.numeric(c, errNoSuchNick, []string{target}, trail("No such nick/channel"))}
	}

	line := wire.Encode(c.Identity, "PRIVMSG", []string{target}, trail(text))
	return []Outbound{{To: recipient, Line: line}}
}

func (e *Engine) handleJoin(c *Connection, params []string) []Outbound {
	if len(params) == 0 || params[0] == "" {
		return []Outbound{e.numeric(c, errNeedMoreParms, []string{"JOIN"}, trail("Not enough parameters"))}
	}

	var out []Outbound
	for _, key := range strings.Split(params[0], ",") {
		out = append(out, e.joinOne(c, key)...)
	}
	return out
}

func (e *Engine) joinOne(c *Connection, key string) []Outbound {
	if !isValidRoomKey(key) {
		return []Outbound{e.numeric(c, errNoSuchChannel, []string{key}, trail("No such channel"))}
	}

	canonical := Fold(key)

	if _, already := c.Rooms[canonical]; already {
		return nil
	}

	existing, _ := e.registry.RoomMembers(canonical)

	joinLine := wire.Encode(c.Identity, "JOIN", nil, trail(key))

	var out []Outbound
	for _, m := range existing {
		out = append(out, Outbound{To: m, Line: joinLine})
	}

	e.registry.Join(c.ID, canonical, key)

	out = append(out, Outbound{To: c.ID, Line: joinLine})
	out = append(out, e.namesReply(c, canonical, key)...)

	return out
}

// namesReply lists the current membership of a room the caller just
// joined, so the room is guaranteed non-empty (it contains at least the
// caller).
func (e *Engine) namesReply(c *Connection, canonical, displayKey string) []Outbound {
	nicks, _ := e.registry.MemberNicksSorted(canonical)

	var out []Outbound
	for _, chunk := range chunkNicks(nicks, displayKey, e.target(c), e.serverName) {
		out = append(out, Outbound{To: c.ID, Line: chunk})
	}

	out = append(out, e.numeric(c, rplEndOfNames, []string{displayKey}, trail("End of /NAMES list.")))
	return out
}

// chunkNicks packs member nicks into one or more 353 lines, each kept
// within wire.MaxLineLength, splitting the NAMES listing rather than
// truncating it — the one exception to the codec's truncate-everything
// rule.
func chunkNicks(nicks []string, displayKey, target, serverName string) []string {
	var lines []string
	var cur []string

	flush := func() {
		if len(cur) == 0 {
			return
		}
		trailerText := strings.Join(cur, " ")
		lines = append(lines, wire.Encode(serverName, rplNamReply, []string{target, "=", displayKey}, trail(trailerText)))
		cur = nil
	}

	for _, n := range nicks {
		candidate := append(append([]string{}, cur...), n)
		trailerText := strings.Join(candidate, " ")
		rawLen := wire.EncodedLen(serverName, rplNamReply, []string{target, "=", displayKey}, trail(trailerText))
		if rawLen > wire.MaxLineLength && len(cur) > 0 {
			flush()
			cur = []string{n}
			continue
		}
		cur = candidate
	}
	flush()

	return lines
}

func (e *Engine) handlePart(c *Connection, params []string) []Outbound {
	if len(params) == 0 || params[0] == "" {
		return []Outbound{e.numeric(c, errNeedMoreParms, []string{"PART"}, trail("Not enough parameters"))}
	}

	var out []Outbound
	for _, key := range strings.Split(params[0], ",") {
		out = append(out, e.partOne(c, key)...)
	}
	return out
}

func (e *Engine) partOne(c *Connection, key string) []Outbound {
	canonical := Fold(key)

	if _, member := c.Rooms[canonical]; !member {
		return []Outbound{e.numeric(c, errNotOnChannel, []string{key}, trail("You're not on that channel"))}
	}

	snapshot, _ := e.registry.RoomMembers(canonical)

	if err := e.registry.Leave(c.ID, canonical); err != nil {
		return nil
	}

	line := wire.Encode(c.Identity, "PART", []string{key}, nil)
	out := make([]Outbound, 0, len(snapshot))
	for _, m := range snapshot {
		out = append(out, Outbound{To: m, Line: line})
	}
	return out
}

// Disconnect runs the disconnect path: detach from the registry, fan out
// QUIT to the captured audience, and return the lines to send. It is the
// single entry point for QUIT, peer half-close, and fatal read errors —
// callers own closing the transport afterward.
func (e *Engine) Disconnect(id ConnID, reason string) []Outbound {
	c, ok := e.registry.Get(id)
	if !ok {
		return nil
	}

	wasRegistered := c.Registered
	nick := c.Identity

	audience := e.registry.Detach(id)

	if !wasRegistered {
		return nil
	}

	line := wire.Encode(nick, "QUIT", nil, trail(reason))
	out := make([]Outbound, 0, len(audience))
	for _, peer := range audience {
		out = append(out, Outbound{To: peer, Line: line})
	}
	return out
}

func lusersText(n int) string {
	if n == 1 {
		return "There is 1 connection"
	}
	return "There are " + strconv.Itoa(n) + " connections"
}
