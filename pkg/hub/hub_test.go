package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/spikelink/internal/exec"
	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/link"
	"github.com/srg/spikelink/internal/stub"
	"github.com/srg/spikelink/internal/testutils"
	"github.com/srg/spikelink/pkg/hub"
)

type HubTestSuite struct {
	suite.Suite

	logger *logrus.Logger
}

func TestHubTestSuite(t *testing.T) {
	suite.Run(t, new(HubTestSuite))
}

func (suite *HubTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.PanicLevel)
}

func (suite *HubTestSuite) connect(output testutils.ScriptedOutput, behavior testutils.Behavior) (*hub.Hub, *testutils.FakeHub) {
	fake := testutils.NewFakeHub(64, output, behavior)
	suite.T().Cleanup(func() { _ = fake.Disconnect() })

	cfg := exec.DefaultConfig()
	cfg.ChunkAckTimeout = 200 * time.Millisecond
	cfg.ExecAckTimeout = 200 * time.Millisecond

	h, err := hub.Connect(context.Background(), hub.Filter{}, &hub.Options{
		Dialer:   fake.Dialer(),
		Protocol: cfg,
		Logger:   suite.logger,
	})
	suite.Require().NoError(err)
	return h, fake
}

func (suite *HubTestSuite) TestRunEndToEnd() {
	h, fake := suite.connect(testutils.ScriptedOutput{
		Lines: []testutils.ScriptedLine{
			{Stream: frame.StreamStdout, Text: "spinning"},
			{Stream: frame.StreamStdout, Text: "stopped"},
		},
	}, testutils.Behavior{})

	source := []byte("import motor\nfrom hub import port\nmotor.run_for_degrees(port.A, 360, 720)\n")
	run, err := h.Run(context.Background(), source, hub.RunOptions{Slot: 1, Name: "spin.py"})
	suite.Require().NoError(err)

	var lines []string
	var sawDone bool
	for ev := range run.Events() {
		switch ev.Type {
		case hub.EventLine:
			lines = append(lines, ev.Text)
		case hub.EventDone:
			sawDone = true
			suite.True(ev.Exit.Success())
		case hub.EventError:
			suite.FailNowf("unexpected error event", "%s: %s", ev.ErrKind, ev.Text)
		}
	}

	suite.Equal([]string{"spinning", "stopped"}, lines)
	suite.True(sawDone)
	suite.NoError(run.Err())
	suite.Equal(lines, run.Lines())
	suite.Equal(source, fake.AssembledSource())
}

func (suite *HubTestSuite) TestRunRejectsUnknownImportBeforeUpload() {
	h, fake := suite.connect(testutils.ScriptedOutput{}, testutils.Behavior{})

	_, err := h.Run(context.Background(), []byte("import definitely_not_on_the_hub\n"), hub.RunOptions{})
	suite.Require().Error(err)

	var unknown *stub.UnknownModuleError
	suite.True(errors.As(err, &unknown))
	// Validation failed before anything went over the wire
	suite.Empty(fake.WrittenFrames())
}

func (suite *HubTestSuite) TestRunWithCustomCatalog() {
	catalog, err := stub.Parse([]byte(`
modules:
  my_device:
    - wiggle
`))
	suite.Require().NoError(err)

	fake := testutils.NewFakeHub(64, testutils.ScriptedOutput{}, testutils.Behavior{})
	suite.T().Cleanup(func() { _ = fake.Disconnect() })

	h, err := hub.Connect(context.Background(), hub.Filter{}, &hub.Options{
		Dialer:  fake.Dialer(),
		Catalog: catalog,
		Logger:  suite.logger,
	})
	suite.Require().NoError(err)

	run, err := h.Run(context.Background(), []byte("from my_device import wiggle\n"), hub.RunOptions{})
	suite.Require().NoError(err)
	suite.NoError(run.Wait(context.Background()))

	_, err = h.Run(context.Background(), []byte("import motor\n"), hub.RunOptions{})
	suite.Error(err, "the custom catalog replaces the default one")
}

func (suite *HubTestSuite) TestRunFailureSurfacesTypedError() {
	h, _ := suite.connect(testutils.ScriptedOutput{
		ErrorMessage: "OSError: [Errno 19] ENODEV",
	}, testutils.Behavior{})

	run, err := h.Run(context.Background(), []byte("import device\n"), hub.RunOptions{})
	suite.Require().NoError(err)

	err = run.Wait(context.Background())
	suite.True(errors.Is(err, exec.ErrHubError))
	suite.Contains(err.Error(), "ENODEV")
}

func (suite *HubTestSuite) TestAbortEndsRunCancelled() {
	h, _ := suite.connect(testutils.ScriptedOutput{}, testutils.Behavior{
		SilentAfterAccept: true,
	})

	run, err := h.Run(context.Background(), []byte("import runloop\n"), hub.RunOptions{})
	suite.Require().NoError(err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		run.Abort()
	}()

	err = run.Wait(context.Background())
	suite.True(errors.Is(err, exec.ErrCancelled))
}

func (suite *HubTestSuite) TestCloseIsIdempotent() {
	h, fake := suite.connect(testutils.ScriptedOutput{}, testutils.Behavior{})

	suite.NoError(h.Close())
	suite.NoError(h.Close())
	suite.Equal(link.StateDisconnected, fake.Session().State())
}

func (suite *HubTestSuite) TestRunAfterCloseFails() {
	h, _ := suite.connect(testutils.ScriptedOutput{}, testutils.Behavior{})
	suite.Require().NoError(h.Close())

	_, err := h.Run(context.Background(), []byte("import motor\n"), hub.RunOptions{})
	suite.True(errors.Is(err, link.ErrNotConnected))
}

func (suite *HubTestSuite) TestSessionAccessor() {
	h, _ := suite.connect(testutils.ScriptedOutput{}, testutils.Behavior{})

	session := h.Session()
	suite.Equal(64, session.MTU())
	suite.Equal(uint8(link.ProtocolVersion), session.Version())
	suite.True(session.Connected())
}
