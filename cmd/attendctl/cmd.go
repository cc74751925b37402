package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"attendly/internal/client"
	"attendly/internal/model"
	"attendly/internal/recorder"
	"attendly/internal/report"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	api       *client.Client
	tokenFile string
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  register -name NAME -email EMAIL [-role teacher|admin]  - create an account")
	fmt.Fprintln(cli.out, "  login -email EMAIL                                      - log in and save the token")
	fmt.Fprintln(cli.out, "  logout                                                  - forget the saved token")
	fmt.Fprintln(cli.out, "  classes                                                 - list classes")
	fmt.Fprintln(cli.out, "  class-add -name NAME -section SECTION [-subject S]      - create a class")
	fmt.Fprintln(cli.out, "  class-edit -id CLASS_ID [-name N] [-section S] [-subject S] - change a class")
	fmt.Fprintln(cli.out, "  class-rm -id CLASS_ID                                   - delete a class with its students")
	fmt.Fprintln(cli.out, "  students [-class CLASS_ID]                              - list students")
	fmt.Fprintln(cli.out, "  student-add -class CLASS_ID -name NAME -roll ROLL        - add a student")
	fmt.Fprintln(cli.out, "  student-edit -id STUDENT_ID [-name N] [-roll R] [-class C] [-email E] [-phone P] - change a student")
	fmt.Fprintln(cli.out, "  student-rm -id STUDENT_ID                               - delete a student")
	fmt.Fprintln(cli.out, "  mark -class CLASS_ID [-date D] [-absent R,..] [-late R,..] - record a day's attendance")
	fmt.Fprintln(cli.out, "  report -class CLASS_ID -start D -end D                  - attendance report")
	fmt.Fprintln(cli.out, "  stats                                                   - dashboard summary")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	cli.restoreToken()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd, rest := args[1], args[2:]
	switch cmd {
	case "register":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		name := fs.String("name", "", "full name")
		email := fs.String("email", "", "email address")
		role := fs.String("role", "", "teacher (default) or admin")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *name == "" || *email == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		u, err := cli.api.Register(ctx, client.Registration{Name: *name, Email: *email, Password: pwd, Role: *role})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "registered %s (%s)\n", u.Email, u.Role)
		return nil

	case "login":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("email", "", "email address")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		u, err := cli.api.Login(ctx, client.Credentials{Email: *email, Password: pwd})
		if err != nil {
			return err
		}
		if err := os.WriteFile(cli.tokenFile, []byte(cli.api.Token()), 0o600); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Fprintf(cli.out, "logged in as %s (%s)\n", u.Name, u.Role)
		return nil

	case "logout":
		cli.api.Logout()
		if err := os.Remove(cli.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Fprintln(cli.out, "logged out")
		return nil

	case "classes":
		return cli.listClasses(ctx)

	case "class-add":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		name := fs.String("name", "", "class name")
		section := fs.String("section", "", "section")
		subject := fs.String("subject", "", "subject (optional)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		in := client.ClassInput{Name: *name, Section: *section}
		if *subject != "" {
			in.Subject = subject
		}
		c, err := cli.api.CreateClass(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "created class %s %s: %s\n", c.Name, c.Section, c.ID)
		return nil

	case "class-edit":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "class id")
		name := fs.String("name", "", "new class name")
		section := fs.String("section", "", "new section")
		subject := fs.String("subject", "", "new subject, empty clears it")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			fs.Usage()
			return errHelp
		}
		cur, err := cli.api.GetClass(ctx, *id)
		if err != nil {
			return err
		}
		in := client.ClassInput{Name: cur.Name, Section: cur.Section, Subject: cur.Subject}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				in.Name = *name
			case "section":
				in.Section = *section
			case "subject":
				in.Subject = optional(*subject)
			}
		})
		c, err := cli.api.UpdateClass(ctx, *id, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "updated class %s %s\n", c.Name, c.Section)
		return nil

	case "class-rm":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "class id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := cli.api.DeleteClass(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "class deleted")
		return nil

	case "students":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		classID := fs.String("class", "", "class id (optional)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return cli.listStudents(ctx, *classID)

	case "student-add":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		classID := fs.String("class", "", "class id")
		name := fs.String("name", "", "student name")
		roll := fs.String("roll", "", "roll number, unique in the class")
		email := fs.String("email", "", "email (optional)")
		phone := fs.String("phone", "", "phone (optional)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		in := client.StudentInput{Name: *name, RollNumber: *roll, ClassID: *classID}
		if *email != "" {
			in.Email = email
		}
		if *phone != "" {
			in.Phone = phone
		}
		st, err := cli.api.CreateStudent(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "added %s (roll %s): %s\n", st.Name, st.RollNumber, st.ID)
		return nil

	case "student-edit":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "student id")
		name := fs.String("name", "", "new name")
		roll := fs.String("roll", "", "new roll number")
		classID := fs.String("class", "", "move to class id")
		email := fs.String("email", "", "new email, empty clears it")
		phone := fs.String("phone", "", "new phone, empty clears it")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			fs.Usage()
			return errHelp
		}
		cur, err := cli.api.GetStudent(ctx, *id)
		if err != nil {
			return err
		}
		in := client.StudentInput{Name: cur.Name, RollNumber: cur.RollNumber, ClassID: cur.ClassID, Email: cur.Email, Phone: cur.Phone}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				in.Name = *name
			case "roll":
				in.RollNumber = *roll
			case "class":
				in.ClassID = *classID
			case "email":
				in.Email = optional(*email)
			case "phone":
				in.Phone = optional(*phone)
			}
		})
		st, err := cli.api.UpdateStudent(ctx, *id, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "updated %s (roll %s)\n", st.Name, st.RollNumber)
		return nil

	case "student-rm":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "student id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := cli.api.DeleteStudent(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "student deleted")
		return nil

	case "mark":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		classID := fs.String("class", "", "class id")
		date := fs.String("date", model.Today(), "date, YYYY-MM-DD")
		absent := fs.String("absent", "", "comma separated roll numbers or ids marked absent")
		late := fs.String("late", "", "comma separated roll numbers or ids marked late")
		dryRun := fs.Bool("dry-run", false, "print the draft without submitting")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *classID == "" {
			fs.Usage()
			return errHelp
		}
		return cli.mark(ctx, recorder.Selection{ClassID: *classID, Date: *date}, splitList(*absent), splitList(*late), *dryRun)

	case "report":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		classID := fs.String("class", "", "class id")
		start := fs.String("start", "", "first date, YYYY-MM-DD")
		end := fs.String("end", "", "last date, YYYY-MM-DD")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return cli.report(ctx, *classID, *start, *end)

	case "stats":
		stats, err := cli.api.DashboardStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "classes: %d\nstudents: %d\nmarked today: %d\n", stats.TotalClasses, stats.TotalStudents, stats.TodayAttendance)
		if len(stats.RecentAttendance) == 0 {
			return nil
		}
		fmt.Fprintln(cli.out, "recent:")
		w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
		for _, r := range stats.RecentAttendance {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.Date, r.ClassID, r.StudentID, r.Status)
		}
		return w.Flush()

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) restoreToken() {
	data, err := os.ReadFile(cli.tokenFile)
	if err != nil {
		return
	}
	cli.api.SetToken(strings.TrimSpace(string(data)))
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) listClasses(ctx context.Context) error {
	classes, err := cli.api.ListClasses(ctx)
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		fmt.Fprintln(cli.out, "no classes yet")
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSECTION\tSUBJECT")
	for _, c := range classes {
		subject := "-"
		if c.Subject != nil {
			subject = *c.Subject
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Section, subject)
	}
	return w.Flush()
}

func (cli *commandLine) listStudents(ctx context.Context, classID string) error {
	students, err := cli.api.ListStudents(ctx, classID)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		fmt.Fprintln(cli.out, "no students")
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLL\tNAME\tCLASS")
	for _, st := range students {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.ID, st.RollNumber, st.Name, st.ClassID)
	}
	return w.Flush()
}

func (cli *commandLine) mark(ctx context.Context, sel recorder.Selection, absent, late []string, dryRun bool) error {
	rec := recorder.New(cli.api)
	state, err := rec.Select(ctx, sel)
	if err != nil {
		return err
	}
	if len(state.Roster) == 0 {
		fmt.Fprintln(cli.out, "class has no students, nothing to mark")
		return nil
	}

	apply := func(keys []string, status model.Status) error {
		for _, key := range keys {
			id, ok := lookupStudent(state.Roster, key)
			if !ok {
				return fmt.Errorf("%q: %w", key, recorder.ErrUnknownStudent)
			}
			if state, err = rec.SetStatus(id, status); err != nil {
				return err
			}
		}
		return nil
	}
	if err := apply(absent, model.StatusAbsent); err != nil {
		return err
	}
	if err := apply(late, model.StatusLate); err != nil {
		return err
	}

	changed := make(map[string]bool)
	for _, id := range recorder.Changed(state) {
		changed[id] = true
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ROLL\tNAME\tSTATUS\t\n")
	for _, st := range state.Roster {
		edited := ""
		if changed[st.ID] {
			edited = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.RollNumber, st.Name, state.Draft[st.ID], edited)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	results, err := rec.Submit(ctx)
	if err != nil {
		return err
	}
	created := 0
	for _, r := range results {
		if r.Action == "created" {
			created++
		}
	}
	fmt.Fprintf(cli.out, "saved %d records for %s (%d new, %d updated)\n", len(results), sel.Date, created, len(results)-created)
	return nil
}

func (cli *commandLine) report(ctx context.Context, classID, start, end string) error {
	rep, err := cli.api.Report(ctx, classID, start, end)
	if err != nil {
		return err
	}
	if len(rep.Rows) == 0 {
		fmt.Fprintln(cli.out, "no students in this class")
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLL\tNAME\tDAYS\tPRESENT\tABSENT\tLATE\tATTENDANCE\tTIER")
	for _, row := range rep.Rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			row.RollNumber, row.StudentName, row.TotalDays, row.Present, row.Absent, row.Late,
			report.Label(row), report.TierOf(row))
	}
	return w.Flush()
}

func lookupStudent(roster []model.Student, key string) (string, bool) {
	for _, st := range roster {
		if st.ID == key || st.RollNumber == key {
			return st.ID, true
		}
	}
	return "", false
}

// optional maps an empty flag value to an absent field.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
