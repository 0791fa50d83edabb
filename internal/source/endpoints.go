package source

import "fmt"

// Resource paths, relative to the API base URL.

const (
	PathCurrentUser = "/current_user"
	PathProjects    = "/projects"
	PathTimes       = "/times"
	PathBoards      = "/boards"
)

// ProjectStatuses are listed in this order when enumerating projects.
var ProjectStatuses = []string{"Active", "On Hold", "Complete"}

func CompanyUsersPath(companyID string) string {
	return fmt.Sprintf("/companies/%s/users", companyID)
}

func ProjectPath(id string) string         { return "/projects/" + id }
func ProjectChildrenPath(id string) string { return "/projects/" + id + "/children" }
func ProjectAccessPath(id string) string   { return "/projects/" + id + "/access" }
func ProjectBoardsPath(id string) string   { return "/projects/" + id + "/boards" }
func ProjectCommentsPath(id string) string { return "/projects/" + id + "/comments" }

func TaskPath(id string) string          { return "/tasks/" + id }
func TaskChecklistPath(id string) string { return "/tasks/" + id + "/checklist" }
func TaskDocumentsPath(id string) string { return "/tasks/" + id + "/documents" }
func TaskCommentsPath(id string) string  { return "/tasks/" + id + "/comments" }
