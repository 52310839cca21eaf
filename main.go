// Command gimap is a command-line client for Gmail over IMAP: listing
// mailboxes, searching with Gmail's raw search syntax, fetching messages and
// performing the edits IMAP has no verbs for (delete, body replace).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/pes10k/gimap/gmail"
	"github.com/pes10k/gimap/mlog"
)

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"config describe", cmdConfigDescribe},
	{"mailboxes", cmdMailboxes},
	{"count", cmdCount},
	{"search", cmdSearch},
	{"fetch", cmdFetch},
	{"export", cmdExport},
	{"attachments", cmdAttachments},
	{"delete", cmdDelete},
	{"replace", cmdReplace},
	{"save", cmdSave},
	{"help", cmdHelp},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		cmds = append(cmds, cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn})
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	params string // Arguments to command.
	help   string // First line is synopsis, the rest printed for explicit help.
	args   []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information we run the command and cause
	// this panic once it has registered its flags and usage strings.
	if c._gather {
		panic("gather")
	}
	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("gimap "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		if x := recover(); x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "gimap " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) Usage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = "Prints help about matching commands."
	args := c.Parse()
	for _, xc := range cmds {
		if len(args) > 0 && !strings.HasPrefix(strings.Join(xc.words, " "), strings.Join(args, " ")) {
			continue
		}
		xc.gather()
		fmt.Print(xc.makeUsage())
		if xc.help != "" {
			fmt.Println("\t" + strings.Split(xc.help, "\n")[0])
		}
	}
}

func usage() {
	lines := []string{"gimap [-config gimap.conf] [-loglevel level] command ..."}
	for _, c := range cmds {
		c.gather()
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"gimap"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("GIMAPCONF", "gimap.conf"), "configuration file, defaults to $GIMAPCONF with a fallback to gimap.conf")
	flag.StringVar(&loglevel, "loglevel", "info", "log level: error, warn, info, debug, trace, traceauth, tracedata")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	if _, ok := mlog.Levels[loglevel]; !ok {
		log.Fatalf("unknown loglevel %q", loglevel)
	}

next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				continue next
			}
		}
		c.flag = flag.NewFlagSet("gimap "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.NewWithLevel(strings.Join(c.words, ""), mlog.Levels[loglevel])
		c.fn(&c)
		return
	}
	usage()
}

func envString(k, def string) string {
	if s := os.Getenv(k); s != "" {
		return s
	}
	return def
}

func xcheckf(err error, format string, args ...any) {
	if err != nil {
		log.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

// xdial authenticates a session using the config file.
func xdial(c *cmd) *gmail.Account {
	cfg := mustLoadConfig(configPath)
	level := mlog.Levels[loglevel]
	if cfg.LogLevel != "" {
		if l, ok := mlog.Levels[cfg.LogLevel]; ok {
			level = l
		}
	}
	a, err := gmail.Dial(gmail.Opts{
		Address:     cfg.Address,
		Email:       cfg.Email,
		Password:    cfg.Password,
		AccessToken: cfg.AccessToken,
		Trash:       cfg.Trash,
		Logger:      mlog.NewWithLevel("gmail", level),
	})
	xcheckf(err, "connecting to %s", cfg.Email)
	return a
}

func cmdConfigDescribe(c *cmd) {
	c.help = "Print an example configuration file with documentation."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Print(describeConfig())
}

func cmdMailboxes(c *cmd) {
	c.help = "List mailboxes. System folders like [Gmail]/All Mail are included with -system."
	system := c.flag.Bool("system", false, "include bracketed system folders")
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mailboxes, err := a.Mailboxes(*system)
	xcheckf(err, "listing mailboxes")
	for _, mb := range mailboxes {
		fmt.Println(mb.Name)
	}
}

func cmdCount(c *cmd) {
	c.params = "mailbox"
	c.help = "Print the number of messages in a mailbox."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(args[0])
	xcheckf(err, "looking up mailbox")
	n, err := mb.Count()
	xcheckf(err, "selecting mailbox")
	fmt.Println(n)
}

func cmdSearch(c *cmd) {
	c.params = "term"
	c.help = `Search a mailbox with Gmail's raw search syntax.

The term uses the same syntax as the Gmail search box, e.g.
"from:alice has:attachment before:2024/01/01".
`
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox to search")
	limit := c.flag.Int("limit", 25, "maximum number of results, negative for no limit")
	offset := c.flag.Int("offset", 0, "skip this many results")
	teaser := c.flag.Bool("teaser", false, "fetch bodies and print a short text snippet per message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	fidelity := gmail.HeadersOnly
	if *teaser {
		fidelity = gmail.Teaser
	}
	msgs, err := mb.Search(args[0], *limit, *offset, fidelity)
	xcheckf(err, "searching")
	for _, m := range msgs {
		printEnvelope(m)
		if *teaser {
			t, err := m.Teaser()
			xcheckf(err, "making teaser for uid %d", m.UID)
			if t != "" {
				fmt.Println("\t" + t)
			}
		}
	}
}

func printEnvelope(m *gmail.Message) {
	from := ""
	if len(m.From) > 0 {
		from = m.From[0].Address
		if m.From[0].Name != "" {
			from = fmt.Sprintf("%s <%s>", m.From[0].Name, m.From[0].Address)
		}
	}
	fmt.Printf("%d\t%s\t%s\n", m.UID, from, m.Subject)
}

func cmdFetch(c *cmd) {
	c.params = "uid ..."
	c.help = "Fetch messages by UID and print their headers and body."
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the messages")
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args, gmail.FullBody)
	xcheckf(err, "fetching")
	for _, m := range msgs {
		printEnvelope(m)
		body, err := m.Body()
		xcheckf(err, "reading body of uid %d", m.UID)
		fmt.Println(body)
	}
}

func cmdExport(c *cmd) {
	c.params = "uid"
	c.help = "Write the raw wire form of a message to stdout."
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args, gmail.FullBody)
	xcheckf(err, "fetching")
	if len(msgs) == 0 {
		log.Fatalf("no message with uid %s", args[0])
	}
	raw, err := msgs[0].Raw()
	xcheckf(err, "rendering message")
	os.Stdout.Write(raw)
}

func cmdAttachments(c *cmd) {
	c.params = "uid"
	c.help = "List a message's attachments with content type, filename and content hash."
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args, gmail.FullBody)
	xcheckf(err, "fetching")
	if len(msgs) == 0 {
		log.Fatalf("no message with uid %s", args[0])
	}
	attachments, err := msgs[0].Attachments()
	xcheckf(err, "listing attachments")
	for _, at := range attachments {
		fmt.Printf("%s\t%s\t%s\n", at.ContentType, at.Filename, at.SHA256())
	}
}

func cmdDelete(c *cmd) {
	c.params = "uid"
	c.help = `Delete a message from a mailbox and from the trash.

The message is copied to the trash, expunged from its mailbox, then located
in the trash by Message-Id and expunged there too. The trash copy becomes
searchable asynchronously; if it cannot be found after several attempts the
command reports "abandoned" and the trash copy survives.
`
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args, gmail.HeadersOnly)
	xcheckf(err, "fetching")
	if len(msgs) == 0 {
		log.Fatalf("no message with uid %s", args[0])
	}
	done, err := msgs[0].Delete()
	xcheckf(err, "deleting")
	if done {
		fmt.Println("deleted")
	} else {
		fmt.Println("abandoned: message removed from mailbox, trash copy not found")
	}
}

func cmdReplace(c *cmd) {
	c.params = "uid find replacement"
	c.help = `Replace text in a message's body and save the result.

Saving deletes the original and appends the edited copy, preserving flags,
internal date and labels. The message gets a new UID, which is printed. With
-regexp the find argument is a regular expression and the replacement may use
capture-group references.
`
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the message")
	useRegexp := c.flag.Bool("regexp", false, "treat find as a regular expression")
	args := c.Parse()
	if len(args) != 3 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args[:1], gmail.FullBody)
	xcheckf(err, "fetching")
	if len(msgs) == 0 {
		log.Fatalf("no message with uid %s", args[0])
	}
	m := msgs[0]
	if *useRegexp {
		re, err := regexp.Compile(args[1])
		xcheckf(err, "compiling regexp")
		err = m.ReplaceRegexp(re, args[2])
		xcheckf(err, "replacing")
	} else {
		err = m.Replace(args[1], args[2])
		xcheckf(err, "replacing")
	}
	uid, err := m.Save()
	xcheckf(err, "saving")
	fmt.Println(uid)
}

func cmdSave(c *cmd) {
	c.params = "uid"
	c.help = "Rewrite a message in place: delete it and append an identical copy, printing the new UID. Mostly useful for testing the save protocol."
	mailbox := c.flag.String("mailbox", "INBOX", "mailbox holding the message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	a := xdial(c)
	defer a.Logout()
	mb, err := a.MailboxByName(*mailbox)
	xcheckf(err, "looking up mailbox")
	msgs, err := mb.MessagesByUID(args, gmail.FullBody)
	xcheckf(err, "fetching")
	if len(msgs) == 0 {
		log.Fatalf("no message with uid %s", args[0])
	}
	uid, err := msgs[0].Save()
	xcheckf(err, "saving")
	fmt.Println(uid)
}
