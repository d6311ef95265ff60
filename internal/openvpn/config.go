// Package openvpn parses OpenVPN client configuration files.
package openvpn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultPort is used for remote directives without a port.
const DefaultPort = 1194

// ErrNoRemote is returned by Validate when the file names no server.
var ErrNoRemote = errors.New("no remote directive")

// Config represents the parsed directives of an .ovpn file.
type Config struct {
	Remote   []RemoteServer
	Protocol string // udp, tcp
	Port     int
	Dev      string // tun, tap
	Cipher   string
	Auth     string
	Compress string
	Verb     int

	// AuthUserPass is set when the file expects username/password credentials.
	AuthUserPass bool

	// Inline blocks (<ca>, <tls-auth>, <tls-crypt>, <cert>, <key>) by tag.
	Inline map[string]string
}

// RemoteServer represents a remote server entry.
type RemoteServer struct {
	Host     string
	Port     int
	Protocol string
}

// Parse reads an OpenVPN configuration from r.
func Parse(r io.Reader) (*Config, error) {
	config := &Config{
		Protocol: "udp",
		Dev:      "tun",
		Inline:   make(map[string]string),
	}

	var (
		inlineTag string
		inlineBuf strings.Builder
		lineNo    int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if inlineTag != "" {
			if strings.EqualFold(line, "</"+inlineTag+">") {
				config.Inline[inlineTag] = inlineBuf.String()
				inlineTag = ""
				inlineBuf.Reset()
				continue
			}
			inlineBuf.WriteString(line)
			inlineBuf.WriteByte('\n')
			continue
		}

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") && !strings.HasPrefix(line, "</") {
			inlineTag = strings.ToLower(strings.Trim(line, "<>"))
			continue
		}

		parts := strings.Fields(line)
		directive := strings.ToLower(parts[0])
		args := parts[1:]

		switch directive {
		case "remote":
			if len(args) == 0 {
				return nil, fmt.Errorf("line %d: remote without host", lineNo)
			}
			remote := RemoteServer{Host: args[0], Port: DefaultPort}
			if len(args) >= 2 {
				port, err := strconv.Atoi(args[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid remote port %q", lineNo, args[1])
				}
				remote.Port = port
			}
			if len(args) >= 3 {
				remote.Protocol = args[2]
			}
			config.Remote = append(config.Remote, remote)
		case "proto":
			if len(args) >= 1 {
				config.Protocol = strings.TrimSuffix(args[0], "-client")
			}
		case "port":
			if len(args) >= 1 {
				_, _ = fmt.Sscanf(args[0], "%d", &config.Port) //nolint:errcheck // Default used if parse fails
			}
		case "dev":
			if len(args) >= 1 {
				config.Dev = args[0]
			}
		case "cipher":
			if len(args) >= 1 {
				config.Cipher = args[0]
			}
		case "auth":
			if len(args) >= 1 {
				config.Auth = args[0]
			}
		case "compress":
			if len(args) >= 1 {
				config.Compress = args[0]
			} else {
				config.Compress = "lzo"
			}
		case "comp-lzo":
			config.Compress = "lzo"
		case "verb":
			if len(args) >= 1 {
				_, _ = fmt.Sscanf(args[0], "%d", &config.Verb) //nolint:errcheck // Default used if parse fails
			}
		case "auth-user-pass":
			config.AuthUserPass = true
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	if inlineTag != "" {
		return nil, fmt.Errorf("unterminated <%s> block", inlineTag)
	}

	// Remotes declared before a later proto directive inherit it.
	for i := range config.Remote {
		if config.Remote[i].Protocol == "" {
			config.Remote[i].Protocol = config.Protocol
		}
	}

	return config, nil
}

// Validate checks that the configuration can be used to connect.
func (c *Config) Validate() error {
	if len(c.Remote) == 0 {
		return ErrNoRemote
	}
	for _, r := range c.Remote {
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("remote %s: port %d out of range", r.Host, r.Port)
		}
	}
	return nil
}

// GetPrimaryRemote returns the first remote server or empty if none.
func (c *Config) GetPrimaryRemote() string {
	if len(c.Remote) == 0 {
		return ""
	}
	r := c.Remote[0]
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
