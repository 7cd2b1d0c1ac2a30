package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/course-advisor/internal/model"
)

func init() {
	rec := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend courses for a student",
		Long:  "Recommend courses for a student's selected internship, or for --company when given.",
		Run:   runRecommend,
	}
	rec.Flags().StringP("student", "s", "", "Student ID (required)")
	rec.Flags().String("company", "", "Company requirement ID (default: the student's selection)")
	rec.MarkFlagRequired("student")

	gap := &cobra.Command{
		Use:   "skill-gap",
		Short: "List required skills the student lacks",
		Run:   runSkillGap,
	}
	gap.Flags().StringP("student", "s", "", "Student ID (required)")
	gap.Flags().String("company", "", "Company requirement ID (default: the student's selection)")
	gap.MarkFlagRequired("student")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether a student's profile is complete enough for recommendations",
		Run:   runStatus,
	}
	status.Flags().StringP("student", "s", "", "Student ID (required)")
	status.MarkFlagRequired("student")

	inv := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop every cached model and result for a student",
		Run:   runInvalidate,
	}
	inv.Flags().StringP("student", "s", "", "Student ID (required)")
	inv.MarkFlagRequired("student")

	RootCmd.AddCommand(rec, gap, status, inv)
}

func runRecommend(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")
	company, _ := cmd.Flags().GetString("company")

	a := mustOpenApp(cmd)
	defer a.Close()

	res, err := a.engine.GetRecommendations(cmd.Context(), student, company)
	if err != nil {
		exitErr("recommend", err)
	}
	if formatFlag == "text" {
		printResultText(res)
		return
	}
	printJSON(res)
}

func printResultText(res *model.Result) {
	fmt.Println(res.Message)
	if len(res.SkillGap) > 0 {
		fmt.Printf("Skill gap: %s\n", strings.Join(res.SkillGap, ", "))
	}
	for i, r := range res.Recommendations {
		fmt.Printf("%2d. [%s] %d %s (score %.2f)\n", i+1, r.Priority, r.CourseID, r.Name, r.Score)
		for _, reason := range r.Reasons {
			fmt.Printf("      %s\n", reason)
		}
	}
}

func runSkillGap(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")
	company, _ := cmd.Flags().GetString("company")

	a := mustOpenApp(cmd)
	defer a.Close()

	gap, err := a.engine.GetSkillGap(cmd.Context(), student, company)
	if err != nil {
		exitErr("skill-gap", err)
	}
	if formatFlag == "text" {
		fmt.Println(strings.Join(gap, "\n"))
		return
	}
	printJSON(map[string]any{"student_id": student, "skill_gap": gap})
}

func runStatus(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")

	a := mustOpenApp(cmd)
	defer a.Close()

	st, err := a.engine.CheckProfileStatus(cmd.Context(), student)
	if err != nil {
		exitErr("status", err)
	}
	printJSON(st)
}

func runInvalidate(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")

	a := mustOpenApp(cmd)
	defer a.Close()

	n, err := a.engine.InvalidateCache(cmd.Context(), student)
	if err != nil {
		exitErr("invalidate", err)
	}
	fmt.Printf(`{"ok":true,"removed":%d}`+"\n", n)
}
