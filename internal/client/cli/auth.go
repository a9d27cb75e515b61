package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/offlinekit/docstore/internal/client/remote"
	"github.com/offlinekit/docstore/internal/client/session"
)

func (a *App) Login(ctx context.Context) {
	name, err := a.readLine("name: ")
	if err != nil {
		return
	}
	password, err := a.readPassword("password: ")
	if err != nil {
		return
	}

	info, err := remote.Login(ctx, nil, a.config.ServerEndpointAddr, name, password)
	if err != nil {
		fmt.Printf("login failed: %v\n", err)
		return
	}

	auth := &session.Auth{OK: true, Name: info.Name, Roles: info.Roles, Token: info.Token}
	if err := session.Save(ctx, a.db, auth); err != nil {
		fmt.Printf("failed to persist session: %v\n", err)
		return
	}

	a.auth = auth
	a.closeStores()
	fmt.Printf("logged in as %s\n", info.Name)
}

func (a *App) Logout(ctx context.Context) {
	if err := session.Clear(ctx, a.db); err != nil {
		fmt.Printf("logout failed: %v\n", err)
		return
	}
	a.auth = nil
	a.closeStores()
	fmt.Println("logged out")
}

func (a *App) WhoAmI() {
	u := a.auth.User()
	if u == nil {
		fmt.Println("not logged in")
		return
	}
	fmt.Printf("%s (roles: %s)\n", u.Name, strings.Join(u.Roles, ", "))
}
