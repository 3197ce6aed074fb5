package backend

import (
	"log/slog"
	"strings"

	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// Prompts sent by the server during the interactive login. They usually
// arrive without a line terminator.
const (
	promptUsername = "Username:"
	promptPassword = "Password:"
	loginFailed    = "Login failed"
)

// authStep is the sub-state of StateAuthenticating.
type authStep int

const (
	awaitUsername authStep = iota
	awaitPassword
)

func hasPrompt(s string) bool {
	return strings.Contains(s, promptUsername) ||
		strings.Contains(s, promptPassword) ||
		strings.Contains(s, loginFailed)
}

// handshakeLine handles a complete line received while authenticating.
func (c *Conn) handshakeLine(line string) {
	switch {
	case c.auth == awaitPassword && strings.Contains(line, promptPassword):
		c.sendPassword()
	case strings.Contains(line, promptUsername):
		if c.auth != awaitUsername {
			c.logger.Warn("ignoring repeated username prompt")
			return
		}
		c.sendUsername()
	case strings.Contains(line, promptPassword):
		if c.auth != awaitPassword {
			c.fault(ErrUnexpectedPrompt)
			return
		}
		c.sendPassword()
	case strings.Contains(line, loginFailed):
		c.fault(ErrLoginFailed)
	default:
		// Servers print a banner before the prompts; only INFO and ERROR
		// lines are worth showing.
		ev, ok := pvpgn.Decode(line)
		if ok && (ev.Kind == pvpgn.KindInfo || ev.Kind == pvpgn.KindError) {
			c.emitMessage(ev)
		}
	}
}

// scanRemainder looks for prompts in the unterminated tail of the buffer and
// consumes the buffer up to the end of each prompt it acts on.
func (c *Conn) scanRemainder() {
	for c.state == StateAuthenticating && c.stream != nil {
		rem := string(c.buf)
		if i := strings.Index(rem, promptUsername); c.auth == awaitUsername && i >= 0 {
			c.buf = c.buf[i+len(promptUsername):]
			c.sendUsername()
			continue
		}
		if i := strings.Index(rem, promptPassword); c.auth == awaitPassword && i >= 0 {
			c.buf = c.buf[i+len(promptPassword):]
			c.sendPassword()
			continue
		}
		if i := strings.Index(rem, promptUsername); i >= 0 {
			c.buf = c.buf[i+len(promptUsername):]
			c.logger.Warn("ignoring repeated username prompt")
			continue
		}
		if strings.Contains(rem, loginFailed) {
			c.buf = nil
			c.fault(ErrLoginFailed)
		}
		return
	}
}

func (c *Conn) sendUsername() {
	if err := c.writeLine(c.username); err != nil {
		c.fault(err)
		return
	}
	c.auth = awaitPassword
	c.logger.Debug("username sent")
}

func (c *Conn) sendPassword() {
	if err := c.writeLine(c.password); err != nil {
		c.fault(err)
		return
	}
	join := "/join " + c.opts.Channel
	if err := c.writeLine(join); err != nil {
		c.fault(err)
		return
	}
	c.stopLoginTimer()
	c.username = ""
	c.password = ""
	c.logger.Debug("credentials sent", slog.String("join", join))
	c.setState(StateConnected, "Credentials and join command sent")
}
