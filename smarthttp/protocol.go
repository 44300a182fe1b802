package smarthttp

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/klauspost/compress/gzip"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/bridge"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/exec"
)

// service is a git Smart HTTP service.
type service string

const (
	uploadPack  service = "git-upload-pack"
	receivePack service = "git-receive-pack"
)

func parseService(s string) (service, bool) {
	switch service(s) {
	case uploadPack, receivePack:
		return service(s), true
	default:
		return "", false
	}
}

// command is the git subcommand, e.g. "upload-pack".
func (s service) command() string {
	return strings.TrimPrefix(string(s), "git-")
}

func (s service) access() auth.Access {
	if s == receivePack {
		return auth.Write
	}
	return auth.Read
}

// advertisement writes the Smart HTTP preamble: the service line as a
// pkt-line, a flush packet and then the refs advertised by git.
func advertisement(s service, refs []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc := pktline.NewEncoder(&buf)
	if err := enc.Encodef("# service=%s\n", s); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.Write(refs)
	return buf.Bytes(), nil
}

func (h *Handler) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("service")
	if name == "" {
		h.handleDumbInfoRefs(w, r)
		return
	}

	svc, ok := parseService(name)
	if !ok {
		http.Error(w, "Unsupported service", http.StatusBadRequest)
		return
	}

	t, ok := h.resolve(w, r, svc.access())
	if !ok {
		return
	}
	log := h.logger.With("repository", t.id.String(), "service", string(svc))

	refs, err := bridge.WithMaterializedRepo(r.Context(), h.bridge, t.id, false,
		func(ctx context.Context, dir string) ([]byte, error) {
			res, err := h.runGit(ctx, dir, nil, svc.command(), "--advertise-refs", ".")
			if err != nil {
				if res == nil || res.ExitCode < 0 {
					return nil, errors.Wrap(err, errors.CodeTransport, "git failed to run")
				}
				log.Warn("git exited non-zero", "exit_code", res.ExitCode, "stderr", string(res.Stderr))
			}
			return res.Stdout, nil
		})
	if err != nil {
		log.Error("advertise refs failed", "error", err)
		http.Error(w, "Git transport failed", statusFor(err))
		return
	}

	body, err := advertisement(svc, refs)
	if err != nil {
		log.Error("failed to encode advertisement", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-"+string(svc)+"-advertisement")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}

// handleDumbInfoRefs serves info/refs for clients that do not speak the
// smart protocol. The file is regenerated on every request.
func (h *Handler) handleDumbInfoRefs(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r, auth.Read)
	if !ok {
		return
	}
	log := h.logger.With("repository", t.id.String())

	refs, err := bridge.WithMaterializedRepo(r.Context(), h.bridge, t.id, false,
		func(ctx context.Context, dir string) ([]byte, error) {
			if res, err := h.runGit(ctx, dir, nil, "update-server-info"); err != nil {
				stderr := ""
				if res != nil {
					stderr = string(res.Stderr)
				}
				log.Warn("update-server-info failed", "error", err, "stderr", stderr)
			}
			data, err := os.ReadFile(filepath.Join(dir, "info", "refs"))
			if err != nil {
				return []byte{}, nil
			}
			return data, nil
		})
	if err != nil {
		log.Error("info/refs failed", "error", err)
		http.Error(w, "Git transport failed", statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(refs)
}

// handleService runs upload-pack or receive-pack in stateless RPC mode.
//
// git's output is returned as is whatever the exit code, since the client
// reads errors from the protocol stream. upload-pack streams its output.
// receive-pack output is held back until the repository has been written
// to the store, so a client never sees "ok" for a push that was lost.
func (h *Handler) handleService(svc service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := h.resolve(w, r, svc.access())
		if !ok {
			return
		}
		log := h.logger.With("repository", t.id.String(), "service", string(svc))

		input, err := h.readBody(w, r)
		if err != nil {
			var maxErr *http.MaxBytesError
			if stderrors.As(err, &maxErr) {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			log.Warn("failed to read request body", "error", err)
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-"+string(svc)+"-result")
		w.Header().Set("Cache-Control", "no-cache")

		if svc == uploadPack {
			h.serveUploadPack(w, r, t, input)
			return
		}
		h.serveReceivePack(w, r, t, input)
	}
}

func (h *Handler) serveUploadPack(w http.ResponseWriter, r *http.Request, t *target, input []byte) {
	log := h.logger.With("repository", t.id.String(), "service", string(uploadPack))
	out := &trackingWriter{w: w}

	err := h.bridge.Run(r.Context(), t.id, false, func(ctx context.Context, dir string) error {
		res, err := h.runGit(ctx, dir, func(e exec.Executor) exec.Executor {
			return e.WithStdin(bytes.NewReader(input)).WithStdout(out)
		}, uploadPack.command(), "--stateless-rpc", ".")
		if err != nil {
			if res == nil || res.ExitCode < 0 {
				return errors.Wrap(err, errors.CodeTransport, "git failed to run")
			}
			log.Warn("git exited non-zero", "exit_code", res.ExitCode, "stderr", string(res.Stderr))
		}
		return nil
	})
	if err != nil {
		log.Error("upload-pack failed", "error", err)
		if !out.wrote {
			http.Error(w, "Git transport failed", statusFor(err))
		}
	}
}

func (h *Handler) serveReceivePack(w http.ResponseWriter, r *http.Request, t *target, input []byte) {
	log := h.logger.With("repository", t.id.String(), "service", string(receivePack))

	output, err := bridge.WithMaterializedRepo(r.Context(), h.bridge, t.id, true,
		func(ctx context.Context, dir string) ([]byte, error) {
			res, err := h.runGit(ctx, dir, func(e exec.Executor) exec.Executor {
				return e.WithStdin(bytes.NewReader(input))
			}, receivePack.command(), "--stateless-rpc", ".")
			if err != nil {
				if res == nil || res.ExitCode < 0 {
					return nil, errors.Wrap(err, errors.CodeTransport, "git failed to run")
				}
				log.Warn("git exited non-zero, not syncing", "exit_code", res.ExitCode, "stderr", string(res.Stderr))
				return res.Stdout, bridge.ErrSkipSync
			}
			return res.Stdout, nil
		})
	if err != nil {
		log.Error("receive-pack failed", "error", err)
		http.Error(w, "Git transport failed", statusFor(err))
		return
	}

	log.Info("push accepted", "user", t.user.Username)
	_, _ = w.Write(output)
}

// readBody reads the whole request body, decompressing gzip bodies sent by
// git clients, and enforces the configured size limit on the decoded
// bytes.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer body.Close()

	var rd io.Reader = body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		rd = io.LimitReader(gz, h.maxBodyBytes+1)
	}

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.maxBodyBytes {
		return nil, &http.MaxBytesError{Limit: h.maxBodyBytes}
	}
	return data, nil
}

// trackingWriter records whether any output reached the client, after
// which an error status can no longer be sent.
type trackingWriter struct {
	w     http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.w.Write(p)
}
