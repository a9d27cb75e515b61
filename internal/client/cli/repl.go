package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/offlinekit/docstore/internal/client/session"
)

func (a *App) Run(ctx context.Context) {
	auth, err := session.Load(ctx, a.db)
	if err != nil {
		fmt.Printf("warning: %v\n", err)
	}
	a.auth = auth

	fmt.Println("docstore CLI (type 'help' for commands)")

	for {
		fmt.Printf("docstore %s> ", a.promptUser())
		line, err := a.reader.ReadString('\n')
		if err != nil {
			break
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printHelp()
		case "login":
			a.Login(ctx)
		case "logout":
			a.Logout(ctx)
		case "whoami":
			a.WhoAmI()
		case "list":
			a.List(ctx, args)
		case "get":
			a.GetDoc(ctx, args)
		case "put":
			a.PutDoc(ctx, args)
		case "del":
			a.DeleteDoc(ctx, args)
		case "pending":
			a.Pending(ctx, args)
		case "exit", "quit":
			fmt.Println("Bye!")
			a.Close()
			return
		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
	}

	a.Close()
}

func (a *App) promptUser() string {
	if u := a.auth.User(); u != nil {
		return u.Name + " "
	}
	return ""
}

func printHelp() {
	fmt.Println(`Commands:
  login                      authenticate against the endpoint
  logout                     drop the stored session
  whoami                     show the current user
  list <collection>          list documents
  get <collection> <id>      show one document
  put <collection> <json>    create or update a document
  del <collection> <id>      soft-delete a document
  pending <collection>       show not-yet-pushed local edits
  exit`)
}
