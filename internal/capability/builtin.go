package capability

import "sync"

// Builtin returns the shell, governance, and business capability groups in
// merge order.
func Builtin() []Group {
	return []Group{
		{
			Name: "shell",
			Capabilities: []Descriptor{
				{
					Key: "overview", Label: "Overview", Icon: "layout-dashboard",
					Views: Views{Single: ViewFunc(overviewSingle), Aggregated: ViewFunc(overviewAggregated)},
				},
				{
					Key: "settings", Label: "Settings", Icon: "settings",
					When:  `!space.archived`,
					Views: Views{Single: ViewFunc(settingsSingle)},
				},
			},
		},
		{
			Name: "governance",
			Capabilities: []Descriptor{
				{
					Key: "audit", Label: "Audit Log", Icon: "shield-check",
					Views: Views{Single: Lazy(func() (View, error) { return ViewFunc(auditSingle), nil })},
				},
				{
					Key: "spaces", Label: "Spaces", Icon: "folders",
					Views: Views{Single: ViewFunc(spacesSingle), Aggregated: ViewFunc(spacesAggregated)},
				},
			},
		},
		{
			Name: "business",
			Capabilities: []Descriptor{
				{
					Key: "tasks", Label: "Tasks", Icon: "list-checks",
					Views: Views{Single: recordsView(taskList, Single), Aggregated: recordsView(taskList, Aggregated)},
				},
				{
					Key: "issues", Label: "Issues", Icon: "alert-triangle",
					Views: Views{Single: recordsView(issueList, Single), Aggregated: recordsView(issueList, Aggregated)},
				},
				{
					Key: "files", Label: "Files", Icon: "file",
					Views: Views{Single: recordsView(fileList, Single), Aggregated: recordsView(fileList, Aggregated)},
				},
				{
					Key: "daily", Label: "Daily Log", Icon: "notebook",
					Views: Views{
						Single:     Lazy(func() (View, error) { return dailyView(Single), nil }),
						Aggregated: Lazy(func() (View, error) { return dailyView(Aggregated), nil }),
					},
				},
			},
		},
	}
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return NewRegistry(Builtin()...)
})

// Default returns the registry of built-in capabilities. It is assembled on
// first use and shared afterwards.
func Default() (*Registry, error) {
	return defaultRegistry()
}
