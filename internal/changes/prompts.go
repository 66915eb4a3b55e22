package changes

// executionSystemPrompt frames the agent's role during the
// implementation phase. The COMMIT_HASH and SUMMARY markers are the
// contract the result parser depends on.
const executionSystemPrompt = `You are an autonomous code change agent. Your job is to implement the requested changes.

Instructions:
1. Analyze the codebase to understand the context
2. Implement the requested changes
3. Run tests if available (npm test, go test, etc.)
4. Commit your changes with a descriptive commit message
5. Output a summary of what you changed

Important:
- Make minimal, focused changes
- Follow existing code patterns and conventions
- Do not make changes outside the scope of the request
- If you encounter issues, explain them clearly

After completing your work, output a line starting with "COMMIT_HASH:" followed by the commit hash.
Then output a line starting with "SUMMARY:" followed by a brief summary of changes.`

// planGenerationPrompt asks for a structured plan in the tag grammar
// parsed by ParsePlan.
const planGenerationPrompt = `You are analyzing a change request to create an implementation plan.

Given the request message, output a plan in this format:
<change-plan>
  <branch>clack/{type}/{short-description}</branch>
  <description>Clear description of what will be changed</description>
  <repo>{target-repository-name}</repo>
</change-plan>

Where:
- type: fix, feat, refactor, docs, or chore
- short-description: kebab-case, max 30 chars
- repo: exact repository name from available list

Be specific in the description about what changes will be made.`

// followUpDetectionPrompt classifies messages in an active change thread
// into a command or a question. Ambiguity must resolve to question, the
// non-destructive branch.
const followUpDetectionPrompt = `You are analyzing a message in an active code change thread where a PR has been created.

The user's message may be:
1. A **command** to act on the PR (merge, review feedback, close, or request additional changes)
2. A **question** about the code or changes (not an action request)

## Determine the Intent

**MERGE** - User wants to merge the PR:
- "merge", "merge it", "ship it", "lgtm", "looks good", "approve and merge"

**REVIEW** - User wants you to address PR feedback/comments:
- "review", "check comments", "address feedback", "fix the review comments"

**CLOSE** - User wants to close/abandon the PR without merging:
- "close", "abandon", "cancel", "never mind", "close the PR"
- Note: if user says "close and delete branch", include that in additionalInstructions

**UPDATE** - User is requesting additional code changes:
- Describes new changes, fixes, or modifications to make
- "also fix the tests", "add error handling too", "can you also update the docs"

**QUESTION** - User is asking about the code or changes (not requesting action):
- "how does this work?", "why did you change this?", "what does this do?"

## Output Format

If this is a COMMAND (merge, review, close, or update), output:
<follow-up-command>
  <command>{merge|review|close|update}</command>
  <instructions>{any additional context or instructions, empty if none}</instructions>
</follow-up-command>

If this is a QUESTION, output:
<question>true</question>

When uncertain, default to treating it as a question.`

// defaultPRTemplate is the last-resort PR body skeleton when neither the
// repository nor the templates directory provides one.
const defaultPRTemplate = `## Summary

<!-- Brief description of changes -->

## Changes Made

<!-- List of changes -->

## Test Plan

<!-- How to test these changes -->
`
