package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rampart/pkg/rbac"
)

// remoteFlags are shared by every command that talks to the server
type remoteFlags struct {
	server  *string
	as      *string
	secret  *string
	timeout *time.Duration
}

func addRemoteFlags(fs *flag.FlagSet, e *env) *remoteFlags {
	return &remoteFlags{
		server:  fs.String("server", e.envOr("RAMPART_SERVER", DefaultServer), "API base URL"),
		as:      fs.String("as", e.getenv("RAMPART_PRINCIPAL"), "Principal to act as, e.g. user:1"),
		secret:  fs.String("secret", e.getenv("RAMPART_PROXY_SECRET"), "Shared proxy secret"),
		timeout: fs.Duration("timeout", 30*time.Second, "Request timeout"),
	}
}

func (f *remoteFlags) client() (*Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), *f.timeout)
	return NewClient(*f.server, *f.as, *f.secret), ctx, cancel
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDecision prints d and turns a refusal into ErrDenied
func (e *env) printDecision(d *rbac.Decision) error {
	if err := e.print(d); err != nil {
		return err
	}
	if !d.Allowed {
		return ErrDenied
	}
	return nil
}

func newCheckCommand(e *env) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check a permission globally or in a context",
		Flags:       newFlagSet("check", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	principal := cmd.Flags.String("principal", "", "Principal to check (defaults to --as)")
	permission := cmd.Flags.String("permission", "", "Permission name")
	scope := cmd.Flags.String("context", "", "Context as kind:id; empty for global")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *permission == "" {
			return fmt.Errorf("permission is required")
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		var d rbac.Decision
		req := rbac.CheckRequest{Principal: *principal, Permission: *permission, Context: *scope}
		if err := client.Do(ctx, http.MethodPost, "/check", req, &d); err != nil {
			return err
		}
		e.logger.WithField("reason", d.Reason).Debug("check complete")
		return e.printDecision(&d)
	}
	return cmd
}

func newCheckInCommand(e *env) *Command {
	cmd := &Command{
		Name:        "check-in",
		Description: "Check a permission in an organization or partner",
		Flags:       newFlagSet("check-in", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	principal := cmd.Flags.String("principal", "", "Principal to check (defaults to --as)")
	permission := cmd.Flags.String("permission", "", "Permission name")
	kind := cmd.Flags.String("kind", "organization", "Container kind")
	id := cmd.Flags.Int64("id", 0, "Container ID")
	noHierarchy := cmd.Flags.Bool("no-hierarchy", false, "Only consider grants on the container itself")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *permission == "" || *id == 0 {
			return fmt.Errorf("permission and id are required")
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		checkHierarchy := !*noHierarchy
		req := rbac.ContainerCheckRequest{
			Principal:      *principal,
			Permission:     *permission,
			Kind:           *kind,
			ID:             *id,
			CheckHierarchy: &checkHierarchy,
		}
		var d rbac.Decision
		if err := client.Do(ctx, http.MethodPost, "/check/container", req, &d); err != nil {
			return err
		}
		return e.printDecision(&d)
	}
	return cmd
}

func newEffectiveCommand(e *env) *Command {
	cmd := &Command{
		Name:        "effective",
		Description: "List the permissions a principal currently holds",
		Flags:       newFlagSet("effective", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	principal := cmd.Flags.String("principal", "", "Principal, e.g. user:1")
	scope := cmd.Flags.String("context", "", "Context as kind:id; empty for global")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *principal == "" {
			return fmt.Errorf("principal is required")
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		path := "/principals/" + url.PathEscape(*principal) + "/effective"
		if *scope != "" {
			path += "?context=" + url.QueryEscape(*scope)
		}
		var out map[string]any
		if err := client.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return e.print(out)
	}
	return cmd
}

// grantFlags select what grant and revoke operate on
type grantFlags struct {
	principal  *string
	role       *string
	permission *string
	scope      *string
}

func addGrantFlags(fs *flag.FlagSet) *grantFlags {
	return &grantFlags{
		principal:  fs.String("principal", "", "Principal, e.g. user:1"),
		role:       fs.String("role", "", "Role name"),
		permission: fs.String("permission", "", "Permission name"),
		scope:      fs.String("context", "", "Context as kind:id; empty for global"),
	}
}

// target returns the collection path and the granted name
func (g *grantFlags) target() (string, string, error) {
	if *g.principal == "" {
		return "", "", fmt.Errorf("principal is required")
	}
	if (*g.role == "") == (*g.permission == "") {
		return "", "", fmt.Errorf("exactly one of role or permission is required")
	}
	base := "/principals/" + url.PathEscape(*g.principal)
	if *g.role != "" {
		return base + "/roles", *g.role, nil
	}
	return base + "/permissions", *g.permission, nil
}

func newGrantCommand(e *env) *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Assign a role or permission to a principal",
		Flags:       newFlagSet("grant", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	grant := addGrantFlags(cmd.Flags)
	activates := cmd.Flags.String("activates", "", "Activation time (RFC3339)")
	expires := cmd.Flags.String("expires", "", "Expiry time (RFC3339)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		path, name, err := grant.target()
		if err != nil {
			return err
		}

		req := rbac.GrantRequest{Name: name, Context: *grant.scope}
		if req.ActivatedAt, err = parseTime("activates", *activates); err != nil {
			return err
		}
		if req.ExpiredAt, err = parseTime("expires", *expires); err != nil {
			return err
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		var out map[string]any
		if err := client.Do(ctx, http.MethodPost, path, req, &out); err != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{
			"principal": *grant.principal,
			"name":      name,
			"context":   *grant.scope,
		}).Info("granted")
		return e.print(out)
	}
	return cmd
}

func newRevokeCommand(e *env) *Command {
	cmd := &Command{
		Name:        "revoke",
		Description: "Remove every matching role or permission assignment",
		Flags:       newFlagSet("revoke", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	grant := addGrantFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		path, name, err := grant.target()
		if err != nil {
			return err
		}
		path += "/" + url.PathEscape(name)
		if *grant.scope != "" {
			path += "?context=" + url.QueryEscape(*grant.scope)
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		var out map[string]int64
		if err := client.Do(ctx, http.MethodDelete, path, nil, &out); err != nil {
			return err
		}
		e.logger.WithField("removed", out["removed"]).Info("revoked")
		return e.print(out)
	}
	return cmd
}

func newHierarchyCommand(e *env) *Command {
	cmd := &Command{
		Name:        "hierarchy",
		Description: "Show the ancestors, descendants or children of a container",
		Flags:       newFlagSet("hierarchy", e),
	}
	remote := addRemoteFlags(cmd.Flags, e)
	kind := cmd.Flags.String("kind", "organization", "Container kind")
	id := cmd.Flags.Int64("id", 0, "Container ID")
	relation := cmd.Flags.String("relation", "ancestors", "ancestors, descendants or children")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *id == 0 {
			return fmt.Errorf("id is required")
		}
		switch *relation {
		case "ancestors", "descendants", "children":
		default:
			return fmt.Errorf("unknown relation %q", *relation)
		}

		client, ctx, cancel := remote.client()
		defer cancel()

		var out []map[string]any
		path := fmt.Sprintf("/containers/%s/%d/%s", url.PathEscape(*kind), *id, *relation)
		if err := client.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return e.print(out)
	}
	return cmd
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s time: %w", name, err)
	}
	return &t, nil
}
