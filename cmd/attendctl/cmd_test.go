package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/client"
	"attendly/internal/logging"
	"attendly/internal/recorder"
	"attendly/internal/server"
)

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    []string
}

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app := server.New(server.Options{
		Service: attendance.NewService(attendance.NewMemoryRepository(), attendance.WithBcryptCost(4)),
		Issuer:  auth.NewIssuer("attendly-test", "test-secret", time.Hour),
		Logger:  logging.Nop(),
	})
	ts := httptest.NewServer(app)
	t.Cleanup(ts.Close)

	readPasswordFunc = func(int) ([]byte, error) { return []byte("password1"), nil }

	out := new(bytes.Buffer)
	return &commandLine{
		api:       client.New(ts.URL + "/api"),
		tokenFile: filepath.Join(t.TempDir(), "token"),
		out:       out,
	}, out
}

func runTests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(append([]string{"attendctl"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				require.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)
	runTests(t, cli, out, []cliTest{
		{name: "no command", args: nil, wantErr: errHelp, wantOut: []string{"Usage:"}},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "login without email", args: []string{"login"}, wantErr: errHelp},
		{name: "mark without class", args: []string{"mark"}, wantErr: errHelp},
		{name: "class-edit without id", args: []string{"class-edit", "-name", "G6"}, wantErr: errHelp},
		{name: "student-edit without id", args: []string{"student-edit"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"students", "-x"}, wantErrStr: "flag provided but not defined: -x"},
	})
}

func Test_commandLine_session(t *testing.T) {
	cli, out := setup(t)
	runTests(t, cli, out, []cliTest{
		{name: "not logged in", args: []string{"classes"}, wantErrStr: "api error 401: missing bearer token"},
		{name: "register", args: []string{"register", "-name", "Tess", "-email", "tess@school.test"}, wantOut: []string{"registered tess@school.test (teacher)"}},
		{name: "register twice", args: []string{"register", "-name", "Tess", "-email", "tess@school.test"}, wantErrStr: "api error 400: email already registered"},
		{name: "login", args: []string{"login", "-email", "tess@school.test"}, wantOut: []string{"logged in as Tess (teacher)"}},
		{name: "no classes", args: []string{"classes"}, wantOut: []string{"no classes yet"}},
	})

	data, err := os.ReadFile(cli.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, cli.api.Token(), string(data))

	// a fresh process picks the saved token up
	fresh := &commandLine{api: client.New(cli.api.BaseURL), tokenFile: cli.tokenFile, out: out}
	runTests(t, fresh, out, []cliTest{
		{name: "restored token", args: []string{"stats"}, wantOut: []string{"classes: 0"}},
		{name: "logout", args: []string{"logout"}, wantOut: []string{"logged out"}},
		{name: "logged out", args: []string{"classes"}, wantErrStr: "api error 401: missing bearer token"},
	})
	assert.NoFileExists(t, cli.tokenFile)
}

func Test_commandLine_attendance(t *testing.T) {
	cli, out := setup(t)
	runTests(t, cli, out, []cliTest{
		{name: "register", args: []string{"register", "-name", "Tess", "-email", "tess@school.test"}},
		{name: "login", args: []string{"login", "-email", "tess@school.test"}},
		{name: "class-add", args: []string{"class-add", "-name", "Grade 5", "-section", "A"}, wantOut: []string{"created class Grade 5 A"}},
		{name: "class-add missing section", args: []string{"class-add", "-name", "Grade 6"}, wantErrStr: "section: required"},
	})

	classes, err := cli.api.ListClasses(context.Background())
	require.NoError(t, err)
	require.Len(t, classes, 1)
	classID := classes[0].ID

	runTests(t, cli, out, []cliTest{
		{name: "add Ann", args: []string{"student-add", "-class", classID, "-name", "Ann", "-roll", "1"}, wantOut: []string{"added Ann (roll 1)"}},
		{name: "add Bob", args: []string{"student-add", "-class", classID, "-name", "Bob", "-roll", "2"}},
		{name: "add Cat", args: []string{"student-add", "-class", classID, "-name", "Cat", "-roll", "3"}},
		{name: "duplicate roll", args: []string{"student-add", "-class", classID, "-name", "Dan", "-roll", "3"}, wantErrStr: "api error 400: roll number already exists in this class"},
		{name: "students", args: []string{"students", "-class", classID}, wantOut: []string{"Ann", "Bob", "Cat"}},
		{name: "dry run", args: []string{"mark", "-class", classID, "-date", "2024-03-01", "-absent", "2", "-dry-run"}, wantOut: []string{"absent"}},
		{name: "unknown roll", args: []string{"mark", "-class", classID, "-date", "2024-03-01", "-absent", "9"}, wantErr: recorder.ErrUnknownStudent},
		{name: "bad date", args: []string{"mark", "-class", classID, "-date", "March 1st"}, wantErrStr: "invalid date, use YYYY-MM-DD"},
		{name: "mark", args: []string{"mark", "-class", classID, "-date", "2024-03-01", "-absent", "2", "-late", "3"}, wantOut: []string{"saved 3 records for 2024-03-01 (3 new, 0 updated)"}},
		{name: "mark again", args: []string{"mark", "-class", classID, "-date", "2024-03-01", "-absent", "2"}, wantOut: []string{"saved 3 records for 2024-03-01 (0 new, 3 updated)"}},
		{name: "report", args: []string{"report", "-class", classID, "-start", "2024-03-01", "-end", "2024-03-31"}, wantOut: []string{"100%", "excellent", "0%", "critical"}},
		{name: "inverted range", args: []string{"report", "-class", classID, "-start", "2024-03-31", "-end", "2024-03-01"}, wantErrStr: "start_date: must not be after end_date"},
		{name: "stats", args: []string{"stats"}, wantOut: []string{"classes: 1", "students: 3", "recent:", "2024-03-01", "absent", "late"}},
	})

	roster, err := cli.api.ListStudents(context.Background(), classID)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	ann := roster[0]
	require.Equal(t, "Ann", ann.Name)

	runTests(t, cli, out, []cliTest{
		{name: "class-edit subject", args: []string{"class-edit", "-id", classID, "-subject", "Math"}, wantOut: []string{"updated class Grade 5 A"}},
		{name: "class-edit unknown", args: []string{"class-edit", "-id", "nope", "-name", "G6"}, wantErrStr: "api error 404: class not found"},
		{name: "student-edit email", args: []string{"student-edit", "-id", ann.ID, "-email", "ann@school.test"}, wantOut: []string{"updated Ann (roll 1)"}},
		{name: "student-edit roll clash", args: []string{"student-edit", "-id", ann.ID, "-roll", "2"}, wantErrStr: "api error 400: roll number already exists in this class"},
		{name: "student-edit bad email", args: []string{"student-edit", "-id", ann.ID, "-email", "ann"}, wantErrStr: "email: not a valid address"},
	})

	class, err := cli.api.GetClass(context.Background(), classID)
	require.NoError(t, err)
	require.NotNil(t, class.Subject)
	assert.Equal(t, "Math", *class.Subject)
	assert.Equal(t, "Grade 5", class.Name)
	edited, err := cli.api.GetStudent(context.Background(), ann.ID)
	require.NoError(t, err)
	require.NotNil(t, edited.Email)
	assert.Equal(t, "ann@school.test", *edited.Email)
	assert.Equal(t, "1", edited.RollNumber)

	runTests(t, cli, out, []cliTest{
		{name: "class-rm", args: []string{"class-rm", "-id", classID}, wantOut: []string{"class deleted"}},
		{name: "cascade", args: []string{"students"}, wantOut: []string{"no students"}},
	})
}
