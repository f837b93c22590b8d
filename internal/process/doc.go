// Package process launches and supervises a single external subprocess.
//
// A Launcher starts a command described by a Spec and returns a Handle:
//   - output lines from stdout and stderr are delivered to the Spec's OutputHandler
//     and logged at the level reported by its LogParser
//   - Stop sends SIGINT and force-kills the process group if it has not exited
//     within the grace period
//   - Done is closed once the process has exited and its output is drained;
//     ExitStatus then reports the exit code or terminating signal
//
// Example:
//
//	launcher := process.NewExecLauncher(logger)
//	h, err := launcher.Launch(ctx, process.Spec{
//	    ID:     streamID,
//	    Path:   "ffmpeg",
//	    Args:   args,
//	    Output: classifier,
//	})
//	...
//	h.Stop(5 * time.Second)
//	<-h.Done()
package process
