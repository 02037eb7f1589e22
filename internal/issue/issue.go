// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	ManifestNotFoundId Id = iota + 1
	ManifestCorruptId
	RecipeInvalidId
	ContainerEngineNotFoundId
	BuildFailedId
	ImageVerificationFailedId
	LaunchFailedId
	PortContractViolatedId
	ConfigLoadFailedId
)

type (
	// Id identifies a catalog entry. The zero value means "no issue".
	Id int

	// MarkdownMsg is the Markdown body shown to the user.
	MarkdownMsg string

	// HttpLink is a documentation link.
	HttpLink string

	// Issue is a catalog entry with guidance for a well-known failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the Markdown body with the given glamour style ("dark",
// "light", "notty", ...).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	manifestNotFoundIssue = &Issue{
		id: ManifestNotFoundId,
		mdMsg: `
# No dependency manifest found!

The build installs dependencies from a manifest at a fixed path before any
source is copied. Without it the build cannot start.

## Things you can try
- Create the manifest at the root of the build context:
~~~
$ printf 'fastapi\nuvicorn\n' > requirements.txt
~~~
- Run the build from the directory that holds ` + "`requirements.txt`" + `, or pass it as the context argument`,
		docLinks: []HttpLink{"https://pip.pypa.io/en/stable/reference/requirements-file-format/"},
	}

	manifestCorruptIssue = &Issue{
		id: ManifestCorruptId,
		mdMsg: `
# The dependency manifest could not be parsed!

Every line must be a requirement specifier, a supported global option, a comment
or blank. Nested includes (` + "`-r`, `-c`" + `) and editable installs (` + "`-e`" + `) are
not supported because the dependency layer must be derived from this file alone.

## Things you can try
- Fix the line reported in the error
- Inline the contents of any included requirement files`,
		docLinks: []HttpLink{"https://peps.python.org/pep-0508/"},
	}

	recipeInvalidIssue = &Issue{
		id: RecipeInvalidId,
		mdMsg: `
# The build recipe is invalid!

## Things you can try
- Print the effective Dockerfile with:
~~~
$ imagewright render
~~~
- Make sure the launch port equals the exposed port`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine available!

imagewright drives docker or podman to build and run images.

## Things you can try
- Install docker or podman and make sure the daemon/socket is reachable
- Select the engine explicitly in config.cue: ` + "`container_engine: \"docker\"`",
		docLinks: []HttpLink{"https://docs.docker.com/engine/install/", "https://podman.io/docs/installation"},
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# The image build failed!

Every build step is fatal: no image was tagged and no build record was written.

## Things you can try
- Re-run with ` + "`--verbose`" + ` to see the full engine output
- Check network access to the OS and Python package indexes
- Rebuild from scratch with ` + "`--no-cache`",
	}

	imageVerificationFailedIssue = &Issue{
		id: ImageVerificationFailedId,
		mdMsg: `
# The built image does not match its recipe!

The image config (environment, working directory, exposed port or command)
differs from what the recipe declared.

## Things you can try
- Compare ` + "`imagewright render`" + ` with the image config from ` + "`docker image inspect`",
	}

	launchFailedIssue = &Issue{
		id: LaunchFailedId,
		mdMsg: `
# The server container did not become ready!

## Things you can try
- Check the container logs printed above for import errors in ` + "`app.main`" + `
- Increase ` + "`launch.ready_timeout`" + ` in config.cue
- Make sure the host port is not already in use`,
	}

	portContractViolatedIssue = &Issue{
		id: PortContractViolatedId,
		mdMsg: `
# The container does not publish exactly the declared port!

A started container must expose one listening socket on the declared port and
no others.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try
- Check CUE syntax in your config file
- Print the defaults with:
~~~
$ imagewright config show
~~~`,
	}

	issues = map[Id]*Issue{
		manifestNotFoundIssue.Id():        manifestNotFoundIssue,
		manifestCorruptIssue.Id():         manifestCorruptIssue,
		recipeInvalidIssue.Id():           recipeInvalidIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		buildFailedIssue.Id():             buildFailedIssue,
		imageVerificationFailedIssue.Id(): imageVerificationFailedIssue,
		launchFailedIssue.Id():            launchFailedIssue,
		portContractViolatedIssue.Id():    portContractViolatedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	values := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		values = append(values, i)
	}
	slices.SortFunc(values, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return values
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
