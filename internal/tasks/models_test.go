package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssigneeUnmarshalForms(t *testing.T) {
	var as Assignees
	err := json.Unmarshal([]byte(`[
		{"user_id": "u1", "username": "ada", "full_name": "Ada L"},
		"u2",
		{"user_id": "u3", "username": "bob", "fullname": "Bob B"}
	]`), &as)
	require.NoError(t, err)
	require.Equal(t, Assignees{
		{UserID: "u1", Username: "ada", FullName: "Ada L"},
		{UserID: "u2"},
		{UserID: "u3", Username: "bob", FullName: "Bob B"},
	}, as)
	require.True(t, as.Includes("u2"))
	require.False(t, as.Includes("u4"))
}

func TestAssigneesFromSingleObject(t *testing.T) {
	var as Assignees
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","username":"ada","fullname":"Ada"}`), &as))
	require.Len(t, as, 1)
	require.NoError(t, as.Validate())
}

func TestAssigneesValidate(t *testing.T) {
	require.ErrorIs(t, Assignees{}.Validate(), ErrNoAssignees)
	require.ErrorIs(t, Assignees{{UserID: "u1", Username: "ada"}}.Validate(), ErrInvalidAssignee)
	require.ErrorIs(t, Assignees{{UserID: "u2"}}.Validate(), ErrInvalidAssignee)

	as := Assignees{{UserID: " u1 ", Username: " ada ", FullName: "<b>Ada</b>"}}
	require.NoError(t, as.Validate())
	require.Equal(t, Assignee{UserID: "u1", Username: "ada", FullName: "Ada"}, as[0])
}

func TestCreateInputValidate(t *testing.T) {
	in := CreateInput{
		Title:       "  <script>alert(1)</script>Ship it ",
		Description: "<p>details</p>",
		Assignees:   Assignees{{UserID: "u1", Username: "ada", FullName: "Ada"}},
	}
	require.NoError(t, in.Validate())
	require.Equal(t, "Ship it", in.Title)
	require.Equal(t, "details", in.Description)
	require.Equal(t, DefaultStatus, in.Status)

	in = CreateInput{Title: "   ", Assignees: Assignees{{UserID: "u1", Username: "ada", FullName: "Ada"}}}
	require.Error(t, in.Validate())
}

func TestPatchApply(t *testing.T) {
	title := "New title"
	task := &Task{Title: "Old", Status: "pending"}

	p := Patch{Title: &title}
	require.False(t, p.Empty())
	require.NoError(t, p.Validate())
	p.Apply(task)
	require.Equal(t, "New title", task.Title)
	require.Equal(t, "pending", task.Status)

	empty := ""
	p = Patch{Status: &empty}
	require.Error(t, p.Validate())

	require.True(t, (&Patch{}).Empty())
}
