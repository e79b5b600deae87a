// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	StoreOpenFailedId
	GatewayUnreachableId
	ListenFailedId
	HostKeyUnavailableId
	DependencyCycleId
	ModuleDependencyMissingId
	ConsoleAuthFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal Markdown using the named glamour style
// ("dark", "light", "notty", ...).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range append(slices.Clone(i.docLinks), i.extLinks...) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

guildhost could not read or validate its configuration.

## Things you can try:
- Print the effective configuration:
~~~
$ guildhost config show
~~~

- Find out which file is being read:
~~~
$ guildhost config path
~~~

- Check the ` + "`GUILDHOST_*`" + ` environment variables; they override the file.
- Durations are strings such as ` + "`\"30s\"`" + ` or ` + "`\"2m\"`" + `.`,
		extLinks: []HttpLink{"https://cuelang.org/docs/tour/"},
	}

	storeOpenFailedIssue = &Issue{
		id: StoreOpenFailedId,
		mdMsg: `
# Could not open the guild store!

Guild settings are persisted in the configured store and the bot refuses to
start without it.

## Things you can try:
- For ` + "`sqlite`" + `, check that the directory of ` + "`store.sqlite.path`" + ` exists and is writable.
- For ` + "`neo4j`" + `, check ` + "`store.neo4j.uri`" + ` and the credentials, and that the server is up.
- Run with the in-memory store to rule out the backend (nothing is persisted):
~~~
$ GUILDHOST_STORE_DRIVER=memory guildhost serve
~~~`,
	}

	gatewayUnreachableIssue = &Issue{
		id: GatewayUnreachableId,
		mdMsg: `
# Could not reach the chat gateway!

The initial connection to the gateway failed. Once connected, the watchdog
reconnects on its own; the first connection has to succeed.

## Things you can try:
- Check ` + "`gateway.url`" + ` and ` + "`gateway.namespace`" + `.
- Check that ` + "`gateway.token`" + ` (or ` + "`GUILDHOST_GATEWAY_TOKEN`" + `) is set and valid.
- Make sure nothing between here and the gateway blocks WebSocket upgrades.`,
		extLinks: []HttpLink{"https://socket.io/docs/v4/troubleshooting-connection-issues/"},
	}

	listenFailedIssue = &Issue{
		id: ListenFailedId,
		mdMsg: `
# Could not open a listening socket!

The admin API or the operator console could not bind its address.

## Things you can try:
- Check that no other process uses the port:
~~~
$ ss -ltnp
~~~

- Change ` + "`admin_api.listen`" + ` or ` + "`console.port`" + `.
- Ports below 1024 need elevated privileges.`,
	}

	hostKeyUnavailableIssue = &Issue{
		id: HostKeyUnavailableId,
		mdMsg: `
# Console host key unavailable!

The SSH console reads its ed25519 host key from ` + "`console.host_key_path`" + ` and
generates one there when the file is missing.

## Things you can try:
- Make sure the directory exists and is writable on first start.
- Make sure an existing key file is readable and not passphrase protected.`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle between modules!

Two or more modules depend on each other, directly or through others, so no
start order exists. The error above names the whole chain.

## Things you can try:
- Inspect the dependency edges:
~~~
$ guildhost modules --graph
~~~

- Move the shared part into a module that both can depend on.`,
	}

	moduleDependencyMissingIssue = &Issue{
		id: ModuleDependencyMissingId,
		mdMsg: `
# Module dependency missing!

A module declares a dependency that is not part of the catalog. The module is
kept in the catalog but will never start.

## Things you can try:
- List the catalog and its dependency order:
~~~
$ guildhost modules
~~~

- Register the missing module, or drop it from the dependency list.`,
	}

	consoleAuthFailedIssue = &Issue{
		id: ConsoleAuthFailedId,
		mdMsg: `
# Console login refused!

The operator console accepts password logins only, and the password is
` + "`console.token`" + `. Public keys are always refused.

## Things you can try:
- Set ` + "`GUILDHOST_CONSOLE_TOKEN`" + ` and restart.
- Connect with password authentication:
~~~
$ ssh -o PreferredAuthentications=password -p 2222 operator@localhost
~~~`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		storeOpenFailedIssue.Id():         storeOpenFailedIssue,
		gatewayUnreachableIssue.Id():      gatewayUnreachableIssue,
		listenFailedIssue.Id():            listenFailedIssue,
		hostKeyUnavailableIssue.Id():      hostKeyUnavailableIssue,
		dependencyCycleIssue.Id():         dependencyCycleIssue,
		moduleDependencyMissingIssue.Id(): moduleDependencyMissingIssue,
		consoleAuthFailedIssue.Id():       consoleAuthFailedIssue,
	}
)

// Values returns every known issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
