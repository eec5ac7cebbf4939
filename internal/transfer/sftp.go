package transfer

import (
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/desertthunder/regq/internal/shared"
)

const sftpScheme = "sftp://"

// IsRemote reports whether location is an sftp:// URI.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, sftpScheme)
}

// SFTPFS is a remote filesystem reached over SSH.
type SFTPFS struct {
	client *sftp.Client
	conn   *ssh.Client
}

func (s *SFTPFS) Stat(p string) (fs.FileInfo, error) { return s.client.Stat(p) }

func (s *SFTPFS) Walk(root string, fn func(string, fs.FileInfo) error) error {
	walker := s.client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		if err := fn(walker.Path(), walker.Stat()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SFTPFS) Open(p string) (io.ReadCloser, error) { return s.client.Open(p) }

func (s *SFTPFS) Create(p string) (io.WriteCloser, error) { return s.client.Create(p) }

func (s *SFTPFS) MkdirAll(p string) error { return s.client.MkdirAll(p) }

func (s *SFTPFS) Rename(from, to string) error {
	if err := s.client.PosixRename(from, to); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *SFTPFS) RemoveAll(p string) error { return s.client.RemoveAll(p) }

func (s *SFTPFS) Join(elem ...string) string { return path.Join(elem...) }

func (s *SFTPFS) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Endpoint is a parsed sftp:// location.
type Endpoint struct {
	User string
	Host string
	Port int
	Path string
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses sftp://[user@]host[:port]/path. Missing user and port come from cfg.
func ParseEndpoint(location string, cfg shared.SFTPConfig) (Endpoint, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "sftp" || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: sftp location %q", shared.ErrInvalidInput, location)
	}

	e := Endpoint{Host: u.Hostname(), User: cfg.User, Port: cfg.Port, Path: u.Path}
	if u.User != nil && u.User.Username() != "" {
		e.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		if e.Port, err = strconv.Atoi(p); err != nil {
			return Endpoint{}, fmt.Errorf("%w: sftp port %q", shared.ErrInvalidInput, p)
		}
	}
	if e.Port == 0 {
		e.Port = 22
	}
	if e.User == "" {
		return Endpoint{}, fmt.Errorf("%w: no sftp user for %s", shared.ErrInvalidConfig, e.Host)
	}
	if e.Path == "" {
		e.Path = "/"
	}
	return e, nil
}

// ClientConfig builds the SSH configuration for user from cfg.
//
// A private key wins over a password. Without a known_hosts file host keys are not verified.
func ClientConfig(user string, cfg shared.SFTPConfig, logger *log.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		key, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %w", shared.ErrInvalidConfig, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %w", shared.ErrInvalidConfig, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: sftp needs a private_key or a password", shared.ErrInvalidConfig)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts: %w", shared.ErrInvalidConfig, err)
		}
		hostKey = cb
	} else if logger != nil {
		logger.Warn("sftp host keys are not verified, set sftp.known_hosts")
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}, nil
}

// DialSFTP connects to the host of e.
func DialSFTP(e Endpoint, cfg shared.SFTPConfig, logger *log.Logger) (*SFTPFS, error) {
	sshConfig, err := ClientConfig(e.User, cfg, logger)
	if err != nil {
		return nil, err
	}

	conn, err := ssh.Dial("tcp", e.Addr(), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", e.Addr(), err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start sftp session on %s: %w", e.Addr(), err)
	}

	return &SFTPFS{client: client, conn: conn}, nil
}

// Opener resolves a location string into a filesystem and a path on it.
type Opener struct {
	SFTP   shared.SFTPConfig
	Logger *log.Logger
}

// Open returns [LocalFS] for plain paths and a dialed [SFTPFS] for sftp:// URIs. Close the FS when done.
func (o Opener) Open(location string) (FS, string, error) {
	if !IsRemote(location) {
		return LocalFS{}, location, nil
	}

	e, err := ParseEndpoint(location, o.SFTP)
	if err != nil {
		return nil, "", err
	}
	fsys, err := DialSFTP(e, o.SFTP, o.Logger)
	if err != nil {
		return nil, "", err
	}
	return fsys, e.Path, nil
}
