// Package console implements the interactive command REPL: the external
// collaborator spec §6 describes as consuming a tree-shaped command map and
// resolving whitespace-separated tokens down the tree to a leaf callable.
// It only ever calls public operations on audit.Registry, audit.Sink, and
// engine.Engine — it never reaches into core state directly (spec §6).
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"chromon/internal/audit"
	"chromon/internal/engine"
)

// leaf is a command tree's terminal callable: it receives the remaining
// whitespace-separated tokens after the path that reached it.
type leaf func(args []string) string

// node is either a leaf or a set of named children; exactly one is non-nil.
type node struct {
	children map[string]*node
	call     leaf
}

func branch(children map[string]*node) *node { return &node{children: children} }
func cmd(fn leaf) *node                       { return &node{call: fn} }

// Console owns the command tree and the engine/sink/registry it dispatches
// into. The exit field becomes true once "exit" has been resolved; Run
// returns after that, letting main close the transport and flush the sink.
type Console struct {
	registry *audit.Registry
	sink     *audit.Sink
	eng      *engine.Engine

	logDir   string
	username string
	tag      string

	root *node

	out  io.Writer
	in   *bufio.Scanner
	exit bool
}

// New builds a Console wired to registry/sink/eng. logDir/username/tag seed
// the "log config show" output until changed via "log config set"/"cd".
func New(registry *audit.Registry, sink *audit.Sink, eng *engine.Engine, logDir, username, tag string) *Console {
	c := &Console{
		registry: registry,
		sink:     sink,
		eng:      eng,
		logDir:   logDir,
		username: username,
		tag:      tag,
		out:      os.Stdout,
		in:       bufio.NewScanner(os.Stdin),
	}
	c.root = c.buildTree()
	return c
}

func (c *Console) buildTree() *node {
	return branch(map[string]*node{
		"log": branch(map[string]*node{
			"config": branch(map[string]*node{
				"show": cmd(c.logConfigShow),
				"set":  cmd(c.logConfigSet),
				"cd":   cmd(c.logConfigCd),
			}),
			"pause": cmd(c.logPause),
			"start": cmd(c.logStart),
		}),
		"event": branch(map[string]*node{
			"show": branch(map[string]*node{
				"active": cmd(c.eventShowActive),
				"all":    cmd(c.eventShowAll),
			}),
			"disable": cmd(c.eventDisable),
			"enable":  cmd(c.eventEnable),
		}),
		"chrome": branch(map[string]*node{
			"config": cmd(c.chromeConfig),
		}),
		"memory": branch(map[string]*node{
			"usage": cmd(c.memoryUsage),
		}),
		"help": cmd(c.help),
		"exit": cmd(c.doExit),
	})
}

// Run reads lines from stdin until "exit" is resolved or EOF, printing a
// colored prompt when stdin is a terminal.
func (c *Console) Run() {
	prompt := "chromon> "
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = color.New(color.FgBlue).Sprint("chromon") + color.New(color.FgWhite, color.Bold).Sprint("> ")
	}

	for !c.exit {
		fmt.Fprint(c.out, prompt)
		if !c.in.Scan() {
			return
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(c.out, c.dispatch(line))
	}
}

// dispatch resolves line's whitespace-separated tokens down the command
// tree, invoking the first leaf reached with whatever tokens remain.
func (c *Console) dispatch(line string) string {
	tokens := strings.Fields(line)
	n := c.root
	for i, tok := range tokens {
		if n.call != nil {
			return n.call(tokens[i:])
		}
		child, ok := n.children[tok]
		if !ok {
			return fmt.Sprintf("unrecognized command: %s", strings.Join(tokens[:i+1], " "))
		}
		n = child
	}
	if n.call != nil {
		return n.call(nil)
	}
	return "incomplete command"
}

func (c *Console) logConfigShow(args []string) string {
	return fmt.Sprintf("logdir=%s username=%s tag=%s", c.logDir, c.username, c.tag)
}

func (c *Console) logConfigSet(args []string) string {
	if len(args) < 2 {
		return "usage: log config set <username> <tag>"
	}
	if err := c.sink.SetUsernameTag(args[0], args[1]); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	c.username, c.tag = args[0], args[1]
	return fmt.Sprintf("log identity set to %s-%s", args[0], args[1])
}

func (c *Console) logConfigCd(args []string) string {
	if len(args) < 1 {
		return "usage: log config cd <dir>"
	}
	if err := c.sink.SetLogDir(args[0]); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	c.logDir = args[0]
	return fmt.Sprintf("log directory set to %s", args[0])
}

func (c *Console) logPause(args []string) string {
	c.sink.Pause()
	return "logging paused"
}

func (c *Console) logStart(args []string) string {
	c.sink.Start()
	return "logging resumed"
}

func (c *Console) eventShowActive(args []string) string {
	names := c.registry.Active()
	if len(names) == 0 {
		return "no active events yet"
	}
	return strings.Join(names, "\n")
}

func (c *Console) eventShowAll(args []string) string {
	names := c.registry.All()
	if len(names) == 0 {
		return "no events registered yet"
	}
	return strings.Join(names, "\n")
}

func (c *Console) eventDisable(args []string) string {
	if len(args) < 1 {
		return "usage: event disable <name>"
	}
	name := strings.Join(args, " ")
	c.registry.Disable(name)
	return fmt.Sprintf("disabled %s", name)
}

func (c *Console) eventEnable(args []string) string {
	if len(args) < 1 {
		return "usage: event enable <name>"
	}
	name := strings.Join(args, " ")
	c.registry.Enable(name)
	return fmt.Sprintf("enabled %s", name)
}

func (c *Console) chromeConfig(args []string) string {
	if len(args) < 1 {
		return fmt.Sprintf("scheduled navigations outstanding: %d", c.eng.ActiveNavigations())
	}
	rec := c.eng.Snapshot(args[0])
	if rec == nil {
		return fmt.Sprintf("frame %s is not tracked", args[0])
	}
	url := ""
	if rec.URL != nil {
		url = rec.URL.String()
	}
	return fmt.Sprintf("frameId=%s uid=%s mainFrame=%v url=%s scripts=%d", rec.FrameID, rec.UID, rec.IsMainFrame, url, len(rec.Scripts))
}

func (c *Console) memoryUsage(args []string) string {
	return fmt.Sprintf("scheduled navigations: %d", c.eng.ActiveNavigations())
}

func (c *Console) help(args []string) string {
	return strings.Join([]string{
		"log config show|set <user> <tag>|cd <dir>",
		"log pause|start",
		"event show active|all",
		"event disable|enable <name>",
		"chrome config [frameId]",
		"memory usage",
		"help",
		"exit",
	}, "\n")
}

func (c *Console) doExit(args []string) string {
	c.exit = true
	return "bye"
}
