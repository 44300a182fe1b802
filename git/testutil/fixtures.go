package testutil

// Identity used for fixture commits.
const (
	// TestAuthor is the author name of fixture commits.
	TestAuthor = "Test User"

	// TestEmail is the author email of fixture commits.
	TestEmail = "test@example.com"
)

// Fixture repository identity.
const (
	// TestOwner is the owner id fixtures are created under.
	TestOwner = "user-1"

	// TestRepoName is the repository name fixtures are created with.
	TestRepoName = "demo"
)

// Sample file content.
const (
	// TestFileContent is sample content for README files.
	TestFileContent = "# Test Repository\n\nThis is a test repository.\n"

	// TestGoFileContent is sample Go source code.
	TestGoFileContent = `package main

import "fmt"

func main() {
	fmt.Println("Hello, World!")
}
`

	// TestYAMLContent is sample YAML configuration.
	TestYAMLContent = `name: test-project
version: 1.0.0
settings:
  enabled: true
`
)
