package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
)

func topicCmd() *cobra.Command {
	c := &cobra.Command{Use: "topic", Short: "Manage topics"}
	c.AddCommand(topicCreateCmd())
	c.AddCommand(topicUpdateCmd())
	c.AddCommand(topicDeleteCmd())
	c.AddCommand(topicListCmd())
	c.AddCommand(topicSuggestCmd())
	c.AddCommand(topicApproveCmd())
	c.AddCommand(topicTeamsCmd())
	c.AddCommand(topicDeadlinesCmd())
	return c
}

func topicAttrFlags(cmd *cobra.Command, attrs *engine.TopicAttrs) {
	cmd.Flags().StringVar(&attrs.ID, "id", "", "topic id (generated when empty)")
	cmd.Flags().StringVar(&attrs.Name, "name", "", "topic name")
	cmd.Flags().StringVar(&attrs.Identifier, "identifier", "", "short code, unique within the assignment")
	cmd.Flags().StringVar(&attrs.Category, "category", "", "category")
	cmd.Flags().IntVar(&attrs.Capacity, "capacity", 1, "how many teams may hold the topic")
	cmd.Flags().StringVar(&attrs.Description, "description", "", "description")
	cmd.Flags().StringVar(&attrs.Link, "link", "", "reference link")
	cmd.Flags().IntVar(&attrs.Micropayment, "micropayment", 0, "micropayment for microtask assignments")
	_ = cmd.MarkFlagRequired("name")
}

func topicCreateCmd() *cobra.Command {
	var assignmentID string
	var attrs engine.TopicAttrs
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTopic(ctx, currentActor(), assignmentID, attrs)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	_ = cmd.MarkFlagRequired("assignment")
	topicAttrFlags(cmd, &attrs)
	return cmd
}

func topicSuggestCmd() *cobra.Command {
	var assignmentID, teamID string
	var attrs engine.TopicAttrs
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest a topic on behalf of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SuggestTopic(ctx, currentActor(), assignmentID, teamID, attrs)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&teamID, "team", "", "suggesting team")
	_ = cmd.MarkFlagRequired("assignment")
	_ = cmd.MarkFlagRequired("team")
	topicAttrFlags(cmd, &attrs)
	return cmd
}

func topicUpdateCmd() *cobra.Command {
	var name, identifier, category, description, link string
	var capacity, micropayment int
	cmd := &cobra.Command{
		Use:   "update <topic-id>",
		Short: "Update a topic; a larger capacity promotes waitlisted teams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TopicPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("identifier") {
				patch.Identifier = &identifier
			}
			if flags.Changed("category") {
				patch.Category = &category
			}
			if flags.Changed("capacity") {
				patch.Capacity = &capacity
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("link") {
				patch.Link = &link
			}
			if flags.Changed("micropayment") {
				patch.Micropayment = &micropayment
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTopic(ctx, currentActor(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "topic name")
	cmd.Flags().StringVar(&identifier, "identifier", "", "short code")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "capacity")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&link, "link", "", "reference link")
	cmd.Flags().IntVar(&micropayment, "micropayment", 0, "micropayment")
	return cmd
}

func topicDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <topic-id>",
		Short: "Delete a topic with its sign-ups, bids and deadlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTopic(ctx, currentActor(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted topic %s\n", args[0])
				return nil
			})
		},
	}
}

func topicApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <topic-id>",
		Short: "Approve a suggested topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.PromoteSuggestedTopic(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func topicListCmd() *cobra.Command {
	var assignmentID string
	var suggested bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the topic sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				slots, err := e.ListTopicSheet(ctx, assignmentID, suggested)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				renderTopicSheet(slots, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().BoolVar(&suggested, "suggested", false, "include suggested topics")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func topicTeamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams <topic-id>",
		Short: "Show the teams signed up on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.TopicTeams(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(teams)
				}
				renderTopicTeams(teams)
				return nil
			})
		},
	}
}

func topicDeadlinesCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "deadlines <topic-id>",
		Short: "Save a topic's deadlines, e.g. --set drop=2024-05-01",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseDeadlineSpecs(specs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SaveTopicDeadlines(ctx, currentActor(), args[0], inputs)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Saved deadlines: %d created, %d updated\n", res.Created, res.Updated)
				renderDeadlines(res.Deadlines, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "set", nil, "type=due pair (repeatable)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func parseDeadlineSpecs(specs []string) ([]engine.DeadlineInput, error) {
	inputs := make([]engine.DeadlineInput, 0, len(specs))
	for _, spec := range specs {
		typ, due, ok := strings.Cut(spec, "=")
		if !ok || typ == "" || due == "" {
			return nil, fmt.Errorf("invalid deadline %q: want type=due", spec)
		}
		dueAt, err := parseDue(due)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, engine.DeadlineInput{Type: domain.DeadlineType(typ), DueAt: dueAt})
	}
	return inputs, nil
}

