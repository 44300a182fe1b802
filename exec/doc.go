// Package exec runs external commands with captured, byte-exact output.
//
// It exists for the git transport binaries (upload-pack, receive-pack,
// update-server-info). Those speak binary pack data on stdin and stdout, so
// output is kept as []byte, stdin can be attached, and every run is bounded
// by a context and an optional timeout that kills the process.
//
// Basic usage:
//
//	git := exec.NewWrapper(exec.New(exec.WithInheritEnv()), "git")
//	res, err := git.
//		WithContext(ctx).
//		WithEnv(map[string]string{"GIT_DIR": dir}).
//		WithStdin(body).
//		WithTimeout(5 * time.Minute).
//		Run("upload-pack", "--stateless-rpc", ".")
//
// A non-zero exit returns both a Result and an *ExecError.
package exec
