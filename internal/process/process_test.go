package process

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_ReadLinesAndExit(t *testing.T) {
	r := NewExecRunner()
	p, err := r.Start(context.Background(), "sh", "-c", "echo one; echo two; exit 3")
	require.NoError(t, err)

	var lines []string
	for {
		line, err := p.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"one", "two"}, lines)

	status, err := p.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)
	assert.False(t, status.Success())
}

func TestExecRunner_WaitTimeoutThenKill(t *testing.T) {
	p, err := NewExecRunner().Start(context.Background(), "sleep", "10")
	require.NoError(t, err)

	_, err = p.Wait(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, p.Kill())
	_, err = p.Wait(5 * time.Second)
	assert.NoError(t, err)
}

func TestExecRunner_KillReachesChildren(t *testing.T) {
	// The background sleep inherits stdout; only a group kill closes it.
	p, err := NewExecRunner().Start(context.Background(), "sh", "-c", "sleep 30 & echo started; wait")
	require.NoError(t, err)

	line, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "started", line)

	require.NoError(t, p.Kill())

	eof := make(chan error, 1)
	go func() {
		for {
			if _, err := p.ReadLine(); err != nil {
				eof <- err
				return
			}
		}
	}()
	select {
	case err := <-eof:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("output still open after Kill")
	}
	_, err = p.Wait(5 * time.Second)
	assert.NoError(t, err)
}

func TestExecRunner_StartMissingBinary(t *testing.T) {
	_, err := NewExecRunner().Start(context.Background(), "/nonexistent/zeus2-binary")
	assert.Error(t, err)
}

func TestOutput(t *testing.T) {
	lines, status, err := Output(context.Background(), NewExecRunner(), 5*time.Second, "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, []string{"ok"}, lines)
}

func TestOutput_TimeoutKills(t *testing.T) {
	f := NewFakeRunner()
	f.Script("slow", Script{Lines: []string{"partial"}, Hang: true})

	lines, _, err := Output(context.Background(), f, time.Millisecond, "slow")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, []string{"partial"}, lines)
	assert.True(t, f.Processes()[0].Killed())
}

func TestFakeRunner_RecordsCalls(t *testing.T) {
	f := NewFakeRunner()
	f.Script("mce_run", Script{Lines: []string{"acq_go"}, Exit: 0})
	f.Script("broken", Script{StartErr: errors.New("no such file")})

	var seen []string
	f.Script("hook", Script{OnStart: func(args []string) { seen = args }})

	_, err := f.Start(context.Background(), "mce_run", "f", "10", "s")
	require.NoError(t, err)
	_, err = f.Start(context.Background(), "broken")
	assert.Error(t, err)
	_, err = f.Start(context.Background(), "hook", "x")
	require.NoError(t, err)

	assert.Equal(t, []string{"mce_run f 10 s", "broken", "hook x"}, f.CommandLines())
	assert.Len(t, f.CallsTo("mce_run"), 1)
	assert.Equal(t, []string{"x"}, seen)
	assert.True(t, f.CallsTo("mce_run")[0].HasArg("s"))
}

func TestFakeProcess_HangUntilKilled(t *testing.T) {
	f := NewFakeRunner()
	f.Script("zframetimes", Script{Hang: true})
	p, err := f.Start(context.Background(), "zframetimes")
	require.NoError(t, err)

	_, err = p.Wait(time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	done := make(chan struct{})
	go func() {
		_, err := p.ReadLine()
		assert.ErrorIs(t, err, io.EOF)
		close(done)
	}()
	p.Kill()
	<-done

	_, err = p.Wait(time.Second)
	assert.NoError(t, err)
}

func TestFakeRunner_Handle(t *testing.T) {
	f := NewFakeRunner()
	f.Handle("mce_cmd", func(args []string) Script {
		return Script{Lines: []string{"value " + args[len(args)-1]}}
	})

	lines, status, err := Output(context.Background(), f, time.Second, "mce_cmd", "-x", "rb", "cc", "row_len", "7")
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, []string{"value 7"}, lines)
}
